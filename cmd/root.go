package cmd

import (
	"fmt"
	"os"

	"VoteFM/config"
	"VoteFM/logger"
	"VoteFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "votefm",
	Short: "VoteFM 多人投票点歌电台",
	Long:  `VoteFM 让一个房间里的用户共享同一条播放进度，队列顺序由投票决定。不带子命令时启动服务器。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and initialises the global logger from it.
func loadConfig() *config.Config {
	cfg := config.Load()
	logger.InitLogger(logger.DefaultConfig(cfg.LogLevel, cfg.LogFile))
	return cfg
}

func runServer() error {
	cfg := loadConfig()
	defer logger.Sync()
	return server.Start(cfg)
}
