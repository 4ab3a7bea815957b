package shell

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// invokeSession serves invocation frames on one WebSocket connection.
// Invocations are scoped to the connection: when it closes, in-flight invocations are canceled.
type invokeSession struct {
	log   *zap.SugaredLogger
	conn  *websocket.Conn
	shell *Shell

	wg sync.WaitGroup

	closeConnOnce sync.Once
}

func (s *invokeSession) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	s.closeConnOnce.Do(func() {
		err := s.conn.Close(code, reason)
		if err != nil {
			s.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (s *invokeSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	for {
		var frame invokeFrame
		err := wsjson.Read(ctx, s.conn, &frame)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
			s.log.Debug("got normal closure from client, wrapping up")
			return
		}
		if err != nil {
			s.log.Debugf("message reader got error: %s", err)
			s.close(websocket.StatusInternalError, err.Error())
			return
		}
		if frame.ID == "" {
			frame.ID = uuid.New().String()
		}

		s.wg.Add(1)
		go s.handle(ctx, frame)
	}
}

func (s *invokeSession) handle(ctx context.Context, frame invokeFrame) {
	defer s.wg.Done()

	resp := resultFrame{ID: frame.ID}
	result, err := s.shell.invoke(ctx, frame.Command, frame.Args)
	if err != nil {
		resp.Kind, _ = classify(err)
		resp.Error = err.Error()
	} else {
		b, err := json.Marshal(result)
		if err != nil {
			resp.Kind = KindInternal
			resp.Error = err.Error()
		} else {
			resp.Result = json.RawMessage(b)
		}
	}
	s.log.Debugw("invoked command", "ID", frame.ID, "Command", frame.Command, "Error", resp.Error)

	if err := wsjson.Write(ctx, s.conn, resp); err != nil {
		s.log.Debugf("error writing result frame %s: %s", frame.ID, err)
	}
}
