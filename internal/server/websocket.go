package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"reaper/internal/game"
)

// gameWebSocketHandler subscribes the connection to one game channel and
// feeds its envelopes to the engine. Engine errors go back to the sender;
// a malformed envelope or a bad token ends the connection.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	channel := game.GameType(conn.Params("channel"))
	engine, ok := s.factory.GetEngine(channel)
	if !ok {
		data, _ := json.Marshal(game.ErrorEvent(fmt.Errorf("%w: unknown channel %q", game.ErrInvalidAction, channel)))
		conn.WriteMessage(websocket.TextMessage, data)
		conn.Close()
		return
	}

	log := s.log.With(zap.String("channel", string(channel)))
	client := s.hub.RegisterClient(conn, conn.Query("user_id", "anonymous"), channel)
	defer func() {
		s.hub.UnregisterClient(client)
		client.Wait()
	}()

	ctx := context.Background()
	for _, evt := range engine.Snapshot(ctx) {
		client.Send(evt)
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Debug("read closed", zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env game.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.closeWithError(client, fmt.Errorf("%w: %v", game.ErrInvalidPayload, err))
			return
		}
		userID, err := s.auth.Authenticate(env.Token)
		if err != nil {
			log.Info("rejected envelope", zap.String("action", env.Action), zap.Error(err))
			s.closeWithError(client, err)
			return
		}

		reply, err := s.factory.Dispatch(ctx, channel, userID, env)
		if err != nil {
			log.Debug("action rejected",
				zap.String("user_id", userID),
				zap.String("action", env.Action),
				zap.Error(err))
			client.Send(game.ErrorEvent(err))
			continue
		}
		if reply.Type != "" {
			client.Send(reply)
		}
	}
}

func (s *FiberServer) closeWithError(client *game.Client, err error) {
	if client.SendAndClose(game.ErrorEvent(err)) {
		client.Wait()
	}
}
