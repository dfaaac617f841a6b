// chatsync CLI - Command line client for chatsync
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/eldtechnologies/chatsync/clients/go/chatsync"
	"github.com/eldtechnologies/chatsync/internal/identity"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := chatsync.NewClient(os.Getenv("CHATSYNC_URL"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		need(3, "chatsync register <email> <name>")
		user, err := client.Register(os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Logged in as: %s <%s>\n", user.DisplayName, user.Email)

	case "login":
		need(2, "chatsync login <email>")
		user, err := client.Login(os.Args[2])
		exitOnError(err)
		fmt.Printf("Logged in as: %s <%s>\n", user.DisplayName, user.Email)

	case "logout":
		exitOnError(client.Logout())
		fmt.Println("Logged out")

	case "whoami":
		if !client.Session.Valid() {
			exitOnError(identity.ErrNoSession)
		}
		fmt.Printf("%s <%s>\n", client.Session.DisplayName, client.Session.Email)

	case "rename":
		need(2, "chatsync rename <name>")
		user, err := client.Rename(os.Args[2])
		exitOnError(err)
		fmt.Printf("Renamed to: %s\n", user.DisplayName)

	case "users":
		resp, err := client.ListUsers(100, 0)
		exitOnError(err)
		for _, u := range resp.Users {
			fmt.Printf("  %s  %s\n", u.Email, u.DisplayName)
		}

	case "who":
		need(2, "chatsync who <email>")
		user, err := client.Who(os.Args[2])
		exitOnError(err)
		printJSON(user)

	case "send":
		need(3, "chatsync send <email> <message>")
		resp, err := client.Send(os.Args[2], os.Args[3])
		if resp != nil && err != nil {
			fmt.Fprintf(os.Stderr, "Send failed at %s; retry with: chatsync resume %s\n", resp.FailedStep, resp.AttemptID)
		}
		exitOnError(err)
		fmt.Printf("Sent: %s\n", resp.MessageID)

	case "resume":
		need(2, "chatsync resume <attempt_id>")
		resp, err := client.Resume(os.Args[2])
		exitOnError(err)
		fmt.Printf("Sent: %s\n", resp.MessageID)

	case "chats":
		list, err := client.Conversations()
		exitOnError(err)
		for _, c := range list {
			unread := " "
			if !c.LatestMessage.IsRead {
				unread = "*"
			}
			fmt.Printf("%s %s <%s>: %s\n", unread, c.PeerDisplayName, c.PeerEmail, c.LatestMessage.Text)
		}

	case "read":
		need(2, "chatsync read <email>")
		if !client.Session.Valid() {
			exitOnError(identity.ErrNoSession)
		}
		peer := os.Args[2]
		id := identity.ConversationID(client.Session.Email, peer)
		resp, err := client.Messages(id, 50, 0)
		exitOnError(err)
		for _, msg := range resp.Messages {
			ts := msg.SentAt.Local().Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.SenderDisplayName, msg.Body)
		}
		_, err = client.MarkRead(id, peer)
		exitOnError(err)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`chatsync CLI - one-to-one chat

Usage: chatsync <command> [options]

Commands:
  register <email> <name>   Register and log in
  login <email>             Log in as a registered user
  logout                    Forget the saved session
  whoami                    Show the session user
  rename <name>             Change your display name
  users                     List registered users
  who <email>               Look up a user
  send <email> <message>    Send a message
  resume <attempt_id>       Retry a send that failed part way
  chats                     List your conversations
  read <email>              Read your conversation with a user
  health                    Check server health

Environment:
  CHATSYNC_URL      Server URL (default: http://localhost:8080)
  CHATSYNC_CONFIG   Config directory (default: ~/.chatsync)`)
}

func need(n int, usage string) {
	if len(os.Args) <= n {
		fmt.Fprintln(os.Stderr, "Usage:", usage)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
