package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/chessroom/internal/roomclient"
	"github.com/park285/chessroom/pkg/roomdto"
)

func main() {
	baseURL := os.Getenv("ROOM_BASE_URL")
	wsURL := os.Getenv("ROOM_WS_URL")
	if baseURL == "" {
		log.Fatal("ROOM_BASE_URL is required")
	}

	client := roomclient.NewClient(baseURL, roomclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		log.Fatalf("/health error: %v", err)
	}
	log.Printf("/health ok: %v", health)

	created, err := client.CreateRoom(ctx, 0)
	if err != nil {
		log.Fatalf("create room error: %v", err)
	}
	log.Printf("room created: code=%s minutes=%d", created.RoomCode, created.TimeControlMinutes)
	if lobby, err := client.Lobby(ctx); err != nil {
		log.Printf("lobby error: %v", err)
	} else {
		log.Printf("lobby: %d open rooms", lobby.TotalRooms)
	}

	if wsURL == "" {
		log.Println("ROOM_WS_URL not set; skipping WS check")
		_ = client.DeleteRoom(ctx, created.RoomCode)
		return
	}

	white := dial(wsURL, "white")
	black := dial(wsURL, "black")
	defer func() {
		_ = white.Close(context.Background())
		_ = black.Close(context.Background())
	}()

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	join := roomdto.JoinRoom{RoomCode: created.RoomCode}
	if err := white.Send(sctx, roomdto.IntentJoinRoom, join); err != nil {
		log.Fatalf("white join error: %v", err)
	}
	// give the first seat time to land on white
	time.Sleep(200 * time.Millisecond)
	if err := black.Send(sctx, roomdto.IntentJoinRoom, join); err != nil {
		log.Fatalf("black join error: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := white.Send(sctx, roomdto.IntentMove, roomdto.Move{
		RoomCode: created.RoomCode,
		Move:     roomdto.MoveDescriptor{From: "e2", To: "e4"},
	}); err != nil {
		log.Fatalf("move error: %v", err)
	}

	// Observe for a short window
	time.Sleep(3 * time.Second)

	status, err := client.RoomStatus(sctx, created.RoomCode)
	if err != nil {
		log.Printf("status error: %v", err)
	} else {
		log.Printf("status: exists=%t state=%s players=%d", status.Exists, status.GameState, status.PlayerCount)
	}
	if err := client.DeleteRoom(sctx, created.RoomCode); err != nil {
		log.Printf("delete error: %v", err)
	}
}

func dial(wsURL, label string) *roomclient.WebSocket {
	ws := roomclient.NewWebSocket(wsURL)
	ws.OnMessage(func(env roomdto.Envelope) {
		fmt.Printf("[%s] %s %s\n", label, env.Event, string(env.Data))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		log.Fatalf("%s ws connect error: %v", label, err)
	}
	return ws
}
