package cmd

import (
	"fmt"

	"VoteFM/db"
	"VoteFM/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "数据库迁移",
	Long:  `连接MySQL并自动迁移房间、参与者、歌曲、投票和用户表结构。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		defer logger.Sync()

		fmt.Printf("MySQL配置: %s:%s/%s\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		if err := db.AutoMigrate(gdb); err != nil {
			return err
		}
		fmt.Println("数据库迁移完成！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
