package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"relay-service/pkg/client"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "relay websocket URL")
	username := flag.String("username", "", "display name")
	userID := flag.String("user-id", "", "user id for direct messages and replay")
	to := flag.String("to", "", "recipient user id (empty broadcasts)")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "usage: client -username NAME [-user-id ID] [-to RECIPIENT]")
		os.Exit(1)
	}

	session := client.NewSession(client.Config{
		URL:      *url,
		Username: *username,
		UserID:   *userID,
		OnMessage: func(msg client.Message) {
			stamp := time.UnixMilli(msg.Timestamp).Format("15:04:05")
			if msg.Type == "status" {
				fmt.Printf("[%s] * %s\n", stamp, msg.Text)
				return
			}
			fmt.Printf("[%s] %s: %s\n", stamp, msg.Username, msg.Text)
		},
		OnParticipants: func(users []client.Participant) {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.Username)
			}
			fmt.Printf("* online: %s\n", strings.Join(names, ", "))
		},
	})
	session.Start()
	defer session.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if _, err := session.SendMessage(line, *to); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}
	}
}
