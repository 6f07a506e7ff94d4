package cmd

import (
	"context"
	"fmt"

	"VoteFM/cache"
	"VoteFM/logger"

	"github.com/spf13/cobra"
)

var redisRoom string

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，并进行基本读写操作。指定房间时列出该房间的在线用户。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("开始测试Redis连接...")
		cfg := loadConfig()
		defer logger.Sync()
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		ctx := context.Background()
		client, err := cache.ConnectRedis(ctx, cfg)
		if err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		fmt.Println("开始测试Redis基本操作...")
		if err := cache.Probe(ctx, client); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if redisRoom != "" {
			users, err := cache.NewPresence(client).OnlineUsers(ctx, redisRoom)
			if err != nil {
				return fmt.Errorf("获取在线用户失败: %w", err)
			}
			fmt.Printf("房间 %s 在线用户: %v\n", redisRoom, users)
		}
		fmt.Println("Redis测试完成，连接已关闭。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().StringVar(&redisRoom, "room", "", "列出该房间的在线用户")
}
