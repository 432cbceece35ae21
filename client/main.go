// Command client is a small interactive console for poking at a running
// game server over websocket.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "server websocket url")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer conn.Close()

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
				os.Exit(0)
			}
			var frame map[string]interface{}
			if json.Unmarshal(data, &frame) == nil && frame["type"] == "ping" {
				_ = conn.WriteJSON(map[string]interface{}{"type": "pong"})
				continue
			}
			fmt.Printf("<- %s\n", data)
		}
	}()

	fmt.Println("commands: register <user> <pass> [email] | login <user> <pass> | chat <channel> <msg...> | action <type> [key=value...] | move <location> | bid <auctionId> <pennies> | raw <json>")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		frame, err := parseLine(scanner.Text())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if frame == nil {
			continue
		}
		if err := conn.WriteJSON(frame); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
			return
		}
	}
}

func parseLine(line string) (map[string]interface{}, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return nil, nil
	}

	switch fields[0] {
	case "register":
		if len(fields) < 3 {
			return nil, fmt.Errorf("usage: register <user> <pass> [email]")
		}
		frame := map[string]interface{}{"type": "register", "username": fields[1], "password": fields[2]}
		if len(fields) > 3 {
			frame["email"] = fields[3]
		}
		return frame, nil
	case "login":
		if len(fields) < 3 {
			return nil, fmt.Errorf("usage: login <user> <pass>")
		}
		return map[string]interface{}{"type": "login", "username": fields[1], "password": fields[2]}, nil
	case "chat":
		if len(fields) < 3 {
			return nil, fmt.Errorf("usage: chat <channel> <msg...>")
		}
		return map[string]interface{}{"type": "chat", "channel": fields[1], "message": strings.Join(fields[2:], " ")}, nil
	case "action":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: action <type> [key=value...]")
		}
		data := map[string]interface{}{}
		for _, kv := range fields[2:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				continue
			}
			if n, err := strconv.ParseFloat(parts[1], 64); err == nil {
				data[parts[0]] = n
			} else {
				data[parts[0]] = parts[1]
			}
		}
		return map[string]interface{}{"type": "action", "actionType": fields[1], "actionData": data}, nil
	case "move":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: move <location>")
		}
		return map[string]interface{}{"type": "change_location", "locationId": fields[1]}, nil
	case "bid":
		if len(fields) < 3 {
			return nil, fmt.Errorf("usage: bid <auctionId> <pennies>")
		}
		amount, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q", fields[2])
		}
		return map[string]interface{}{"type": "auction_bid", "auctionId": fields[1], "bidAmount": amount}, nil
	case "raw":
		var frame map[string]interface{}
		raw := strings.TrimSpace(strings.TrimPrefix(line, "raw"))
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			return nil, fmt.Errorf("bad json: %v", err)
		}
		return frame, nil
	default:
		return nil, fmt.Errorf("unknown command %q", fields[0])
	}
}
