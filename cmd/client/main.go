package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/ewaller/chatrelay/pkg/protocol"
)

// A minimal line-oriented client for exercising a running server from a
// terminal. Commands start with a slash; anything else is sent as a chat
// message to the current room.

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("connected to %s\n", *addr)

	go receiveLoop(conn)

	var roomID int64
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if roomID == 0 {
				fmt.Println("join a room first (/join <id> [password])")
				continue
			}
			send(conn, protocol.ChatRequest{Type: protocol.TypeMessage, RoomID: roomID, Content: line})
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/register":
			if len(fields) != 3 {
				fmt.Println("usage: /register <user> <pass>")
				continue
			}
			send(conn, protocol.RegisterRequest{Type: protocol.TypeRegister, Username: fields[1], Password: fields[2]})
		case "/login":
			if len(fields) != 3 {
				fmt.Println("usage: /login <user> <pass>")
				continue
			}
			send(conn, protocol.LoginRequest{Type: protocol.TypeLogin, Username: fields[1], Password: fields[2]})
		case "/create":
			if len(fields) < 2 {
				fmt.Println("usage: /create <name> [private <password>]")
				continue
			}
			req := protocol.CreateRoomRequest{Type: protocol.TypeCreateRoom, RoomName: fields[1], RoomType: "public"}
			if len(fields) >= 4 && fields[2] == "private" {
				req.RoomType = "private"
				req.Password = fields[3]
			}
			send(conn, req)
		case "/join":
			if len(fields) < 2 {
				fmt.Println("usage: /join <id> [password]")
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("room id must be a number")
				continue
			}
			req := protocol.JoinRoomRequest{Type: protocol.TypeJoinRoom, RoomID: id}
			if len(fields) >= 3 {
				req.Password = fields[2]
			}
			send(conn, req)
			roomID = id
		case "/friend":
			if len(fields) != 2 {
				fmt.Println("usage: /friend <user>")
				continue
			}
			send(conn, protocol.SendFriendRequestRequest{Type: protocol.TypeSendFriendRequest, Username: fields[1]})
		case "/accept":
			if len(fields) != 2 {
				fmt.Println("usage: /accept <user>")
				continue
			}
			send(conn, protocol.AcceptFriendRequestRequest{Type: protocol.TypeAcceptFriendRequest, Username: fields[1]})
		case "/friends":
			send(conn, protocol.GetFriendsRequest{Type: protocol.TypeGetFriends})
		case "/profile":
			if len(fields) != 2 {
				fmt.Println("usage: /profile <user>")
				continue
			}
			send(conn, protocol.GetProfileRequest{Type: protocol.TypeGetProfile, Username: fields[1]})
		case "/quit":
			return
		default:
			fmt.Println("commands: /register /login /create /join /friend /accept /friends /profile /quit")
		}
	}
}

func send(conn net.Conn, v any) {
	if err := protocol.WriteMessage(conn, v); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}
}

func receiveLoop(conn net.Conn) {
	for {
		raw, typ, err := protocol.ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
			}
			fmt.Println("disconnected")
			os.Exit(0)
		}
		printMessage(typ, raw)
	}
}

func printMessage(typ string, raw json.RawMessage) {
	switch typ {
	case protocol.TypeMessage:
		var m protocol.ChatBroadcast
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("[room %d] %s: %s\n", m.RoomID, m.Username, m.Content)
			return
		}
	case protocol.TypeError:
		var m protocol.ErrorMessage
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("error: %s\n", m.Message)
			return
		}
	case protocol.TypeOnlineUsers:
		var m protocol.OnlineUsers
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("online: %s\n", strings.Join(m.Users, ", "))
			return
		}
	case protocol.TypeRoomState:
		var m protocol.RoomState
		if json.Unmarshal(raw, &m) == nil {
			for _, r := range m.Rooms {
				fmt.Printf("room %d %q (%s) users=%d\n", r.ID, r.Name, r.RoomType, r.UserCount)
			}
			return
		}
	}
	fmt.Printf("<%s> %s\n", typ, string(raw))
}
