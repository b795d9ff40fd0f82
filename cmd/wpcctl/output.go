package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
)

func printResult(v interface{}) {
	if output == "json" {
		json.NewEncoder(os.Stdout).Encode(v)
		return
	}
	printTable(v)
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []WorkspaceRow:
		if len(data) == 0 {
			fmt.Println("No workspaces found.")
			return
		}
		fmt.Fprintln(w, "ID\tSTATE\tOWNER\tREGION\tTIER\tOS\tCREATED")
		for _, ws := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", shortID(ws.ID), ws.State, ws.Owner, ws.Region, ws.Tier, ws.OS, ws.CreatedAt)
		}
	case WorkspaceRow:
		fmt.Fprintf(w, "ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "State:\t%s\n", data.State)
		fmt.Fprintf(w, "Owner:\t%s\n", data.Owner)
		fmt.Fprintf(w, "Team:\t%s\n", data.Team)
		fmt.Fprintf(w, "Region:\t%s\n", data.Region)
		fmt.Fprintf(w, "Tier:\t%s\n", data.Tier)
		fmt.Fprintf(w, "OS:\t%s\n", data.OS)
		fmt.Fprintf(w, "Service type:\t%s\n", data.ServiceType)
		if data.BlueprintID != "" {
			fmt.Fprintf(w, "Blueprint:\t%s\n", data.BlueprintID)
		}
		fmt.Fprintf(w, "Pool origin:\t%v\n", data.PoolOrigin)
		fmt.Fprintf(w, "Keep alive:\t%v\n", data.KeepAlive)
		if data.ConnectionInfo != "" {
			fmt.Fprintf(w, "Connection:\t%s\n", truncate(data.ConnectionInfo, 60))
		}
		if data.FailureReason != "" {
			fmt.Fprintf(w, "Failure:\t%s\n", data.FailureReason)
		}
		fmt.Fprintf(w, "Created:\t%s\n", data.CreatedAt)
		if data.AvailableAt != "" {
			fmt.Fprintf(w, "Available:\t%s\n", data.AvailableAt)
		}
		if data.Warning != "" {
			fmt.Fprintf(w, "Warning:\t%s\n", data.Warning)
		}
	case []PoolRow:
		if len(data) == 0 {
			fmt.Println("No pools found.")
			return
		}
		fmt.Fprintln(w, "BLUEPRINT\tOS\tIDLE\tTARGET")
		for _, p := range data {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", p.BlueprintID, p.OS, p.Idle, p.Target)
		}
	default:
		json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
