// Command chatadmin is the admin CLI tool, mirroring the wire's
// server_admin_tool verbs one-for-one: stats, clients, kick, broadcast,
// simulate, shutdown (spec §6).
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chatrelay/adminsrv"
)

var adminAddr string

func main() {
	root := &cobra.Command{
		Use:   "chatadmin",
		Short: "Administer a running chatrelay server",
	}
	root.PersistentFlags().StringVar(&adminAddr, "admin", "localhost:8889", "admin listen address")

	root.AddCommand(
		statsCmd(),
		clientsCmd(),
		kickCmd(),
		broadcastCmd(),
		simulateCmd(),
		shutdownCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statsCmd() *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print get_stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch <= 0 {
				return call("get_stats", nil)
			}
			return watchStats(watch)
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "re-poll get_stats on this interval and reprint, like server_admin_tool.py's monitor mode")
	return cmd
}

// watchStats polls get_stats on an interval and redraws, clearing the
// terminal between polls the way server_admin_tool.py's monitor mode does.
func watchStats(interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fmt.Print("\033[H\033[2J")
		if err := call("get_stats", nil); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		<-ticker.C
	}
}

func clientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "Print get_clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("get_clients", nil)
		},
	}
}

func kickCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "kick",
		Short: "Disconnect a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("kick_client", map[string]any{"client_id": clientID})
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client to disconnect")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func broadcastCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send a server-wide notice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("broadcast", map[string]any{"message": message})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "notice text")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func simulateCmd() *cobra.Command {
	var lossRate, delay float64
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Configure the fault injector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("set_network_sim", map[string]any{"packet_loss_rate": lossRate, "delay": delay})
		},
	}
	cmd.Flags().Float64Var(&lossRate, "loss-rate", 0, "packet loss rate in [0,1]")
	cmd.Flags().Float64Var(&delay, "delay", 0, "artificial delay in seconds")
	return cmd
}

func shutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Shut the server down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("shutdown", nil)
		},
	}
}

func call(command string, params map[string]any) error {
	conn, err := net.DialTimeout("tcp", adminAddr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dialing admin port %s: %w", adminAddr, err)
	}
	defer conn.Close()

	var raw json.RawMessage
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}

	req := &adminsrv.Request{
		Command:   command,
		Params:    raw,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	if err := adminsrv.WriteRequest(conn, req); err != nil {
		return fmt.Errorf("sending %s: %w", command, err)
	}

	resp, err := adminsrv.ReadResponse(conn)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if errMsg, ok := resp["error"]; ok {
		return fmt.Errorf("server error: %v", errMsg)
	}
	return nil
}
