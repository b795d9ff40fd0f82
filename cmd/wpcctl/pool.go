package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type PoolRow struct {
	BlueprintID string `json:"blueprint_id"`
	OS          string `json:"os"`
	Idle        int    `json:"idle"`
	Target      int    `json:"target"`
}

type PoolListResponse struct {
	Pools []PoolRow `json:"pools"`
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Warm pool commands",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show warm pool status",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp PoolListResponse
		if err := client.Get("/v1/pools", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Pools)
	},
}

func init() {
	poolCmd.AddCommand(poolListCmd)
	rootCmd.AddCommand(poolCmd)
}
