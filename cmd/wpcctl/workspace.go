package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type WorkspaceRow struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Team           string `json:"team"`
	Region         string `json:"region"`
	Tier           string `json:"tier"`
	OS             string `json:"os"`
	ServiceType    string `json:"service_type"`
	BlueprintID    string `json:"blueprint_id"`
	State          string `json:"state"`
	ConnectionInfo string `json:"connection_info"`
	PoolOrigin     bool   `json:"pool_origin"`
	KeepAlive      bool   `json:"keep_alive"`
	FailureReason  string `json:"failure_reason"`
	CreatedAt      string `json:"created_at"`
	AvailableAt    string `json:"available_at"`
	Warning        string `json:"warning"`
}

type WorkspaceListResponse struct {
	Workspaces []WorkspaceRow `json:"workspaces"`
	NextCursor string         `json:"next_cursor"`
}

var (
	createRole      string
	createTeam      string
	createService   string
	createTier      string
	createOS        string
	createBlueprint string
	createGeoHint   string
	listOwner       string
	listState       string
	listLimit       int
	listCursor      string
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Workspace management commands",
}

var wsCreateCmd = &cobra.Command{
	Use:   "create <requester>",
	Short: "Provision a new workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]string{
			"requester":    args[0],
			"role":         createRole,
			"team":         createTeam,
			"service_type": createService,
			"tier":         createTier,
			"os":           createOS,
		}
		if createBlueprint != "" {
			req["blueprint_id"] = createBlueprint
		}
		if createGeoHint != "" {
			req["geo_hint"] = createGeoHint
		}

		var ws WorkspaceRow
		err := client.PostWithHeaders("/v1/workspaces", req, &ws, map[string]string{
			"Idempotency-Key": uuid.New().String(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(ws)
	},
}

var wsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get workspace details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var ws WorkspaceRow
		if err := client.Get("/v1/workspaces/"+args[0], &ws); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(ws)
	},
}

var wsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		q := url.Values{}
		if listOwner != "" {
			q.Set("owner", listOwner)
		}
		if listState != "" {
			q.Set("state", listState)
		}
		if listLimit > 0 {
			q.Set("limit", fmt.Sprintf("%d", listLimit))
		}
		if listCursor != "" {
			q.Set("cursor", listCursor)
		}
		path := "/v1/workspaces"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp WorkspaceListResponse
		if err := client.Get(path, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Workspaces)
		if resp.NextCursor != "" && output != "json" {
			fmt.Printf("Next page: wpcctl ws list --cursor %s\n", resp.NextCursor)
		}
	},
}

var wsStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a stopped workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		lifecycleAction(args[0], "start")
	},
}

var wsStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a running workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		lifecycleAction(args[0], "stop")
	},
}

var wsTerminateCmd = &cobra.Command{
	Use:     "terminate <id>",
	Aliases: []string{"rm"},
	Short:   "Terminate a workspace",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var ws WorkspaceRow
		if err := client.Delete("/v1/workspaces/"+args[0], &ws); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s terminated.\n", ws.ID)
	},
}

var wsKeepAliveCmd = &cobra.Command{
	Use:   "keep-alive <id> <on|off>",
	Short: "Set or clear the keep-alive flag",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var ws WorkspaceRow
		req := map[string]bool{"keep_alive": args[1] == "on"}
		if err := client.Post("/v1/workspaces/"+args[0]+"/keep-alive", req, &ws); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(ws)
	},
}

func lifecycleAction(id, action string) {
	client := NewClient(apiURL)

	var ws WorkspaceRow
	if err := client.Post("/v1/workspaces/"+id+"/"+action, nil, &ws); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printResult(ws)
}

func init() {
	wsCreateCmd.Flags().StringVar(&createRole, "role", "engineer", "Requester role")
	wsCreateCmd.Flags().StringVar(&createTeam, "team", "", "Billing team")
	wsCreateCmd.Flags().StringVar(&createService, "service-type", "vdi", "Service type (vdi, devbox)")
	wsCreateCmd.Flags().StringVar(&createTier, "tier", "standard", "Hardware tier")
	wsCreateCmd.Flags().StringVar(&createOS, "os", "linux", "Operating system (linux, windows)")
	wsCreateCmd.Flags().StringVar(&createBlueprint, "blueprint", "", "Blueprint ID")
	wsCreateCmd.Flags().StringVar(&createGeoHint, "geo-hint", "", "Preferred geography")
	wsCreateCmd.MarkFlagRequired("team")

	wsListCmd.Flags().StringVar(&listOwner, "owner", "", "Filter by owner")
	wsListCmd.Flags().StringVar(&listState, "state", "", "Filter by state")
	wsListCmd.Flags().IntVar(&listLimit, "limit", 0, "Page size")
	wsListCmd.Flags().StringVar(&listCursor, "cursor", "", "Pagination cursor")

	workspaceCmd.AddCommand(wsCreateCmd, wsGetCmd, wsListCmd, wsStartCmd, wsStopCmd, wsTerminateCmd, wsKeepAliveCmd)
	rootCmd.AddCommand(workspaceCmd)
}
