// Command chatclient is an interactive chat CLI: lines typed at the
// prompt are sent as CHAT, with "/quit" and "/stats" handled locally
// (spec §6's client-side CLI contract).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chatrelay/chatclient"
	"chatrelay/config"
)

var (
	serverAddr string
	username   string
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "chatclient",
		Short: "Connect to a chatrelay server",
		RunE:  run,
	}
	root.Flags().StringVar(&serverAddr, "server", "", "override the server address (host:port)")
	root.Flags().StringVar(&username, "username", "", "override the display name")
	root.Flags().StringVar(&configPath, "config", "", "path to a JSON client settings file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.LoadClientSettings(configPath)
	if serverAddr != "" {
		cfg.ServerAddr = serverAddr
	}
	if username != "" {
		cfg.Username = username
	}
	if cfg.Username == "" {
		return fmt.Errorf("a username is required (--username or config)")
	}

	c, err := chatclient.Dial(context.Background(), cfg.ServerAddr, cfg.Username, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.ServerAddr, err)
	}
	defer c.Close()

	stop := make(chan struct{})
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(stop) }()

	go printIncoming(c)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("connected as %s. type /quit to leave, /stats for connection state.\n", cfg.Username)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "/quit":
			close(stop)
			<-runErr
			return nil
		case line == "/stats":
			printStats(c)
		case strings.TrimSpace(line) == "":
			continue
		default:
			if err := c.SendChat(line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
	close(stop)
	<-runErr
	return nil
}

func printIncoming(c *chatclient.Client) {
	for msg := range c.Incoming {
		fmt.Printf("%s: %s\n", msg.Sender, msg.Content)
	}
}

func printStats(c *chatclient.Client) {
	s := c.Stats()
	fmt.Printf("cwnd=%.2f rto=%s pending=%d state=%s\n", s.CongestionWindow, s.RTO, s.PendingMessages, s.State)
}
