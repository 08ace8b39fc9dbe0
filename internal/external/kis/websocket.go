package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/logger"
)

// 실시간 체결/호가 TR
const (
	trTick      = "H0STCNT0"
	trOrderbook = "H0STASP0"
)

const (
	wsURLReal = "ws://ops.koreainvestment.com:21000"
	wsURLVTS  = "ws://ops.koreainvestment.com:31000"

	// 재접속은 단계별 백오프, 60회 연속 실패면 장 종료로 보고 중단.
	wsMaxReconnects = 60
)

// H0STCNT0 체결 페이로드 필드 인덱스
const (
	tickFieldCode       = 0
	tickFieldTime       = 1
	tickFieldPrice      = 2
	tickFieldChangeRate = 5
	tickFieldCumVolume  = 13
	tickFieldCount      = 46 // 레코드당 필드 수
)

// backoffStages: 연속 실패 횟수에 따른 대기 시간.
var backoffStages = []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}

// TickHandler consumes one real-time tick.
type TickHandler func(tick contracts.TickData)

// Stream is the KIS real-time websocket session. It subscribes the tick
// TR for each watched code and survives disconnects with staged backoff.
type Stream struct {
	client  *Client
	logger  *logger.Logger
	onTick  TickHandler
	dialer  *websocket.Dialer
	wsURL   string

	mu      sync.Mutex
	codes   []string
	running bool
	cancel  context.CancelFunc
}

// NewStream creates a stream bound to the client's trading mode.
func NewStream(client *Client, onTick TickHandler, log *logger.Logger) *Stream {
	wsURL := wsURLVTS
	if client.Mode() == config.ModeReal {
		wsURL = wsURLReal
	}
	return &Stream{
		client: client,
		logger: log.WithComponent("kis-ws"),
		onTick: onTick,
		dialer: websocket.DefaultDialer,
		wsURL:  wsURL,
	}
}

// approvalKey fetches the websocket access key for the active mode.
func (s *Stream) approvalKey(ctx context.Context) (string, error) {
	cr := s.client.credsFor(s.client.Mode())
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     cr.appKey,
		"secretkey":  cr.appSecret,
	}

	resp, err := s.client.httpClient.PostJSON(ctx, cr.baseURL+"/oauth2/Approval", body)
	if err != nil {
		return "", fmt.Errorf("approval request: %w", err)
	}

	var ar approvalResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		resp.Body.Close()
		return "", fmt.Errorf("approval decode: %w", err)
	}
	resp.Body.Close()

	if ar.ApprovalKey == "" {
		return "", fmt.Errorf("empty approval key")
	}
	return ar.ApprovalKey, nil
}

// Start begins streaming ticks for the given codes. Non-blocking; the
// session runs until Stop or the reconnect cap is exhausted.
func (s *Stream) Start(ctx context.Context, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("stream already running")
	}
	if len(codes) == 0 {
		return fmt.Errorf("no codes to subscribe")
	}

	s.codes = append([]string(nil), codes...)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	go s.run(runCtx)
	return nil
}

// Stop ends the session.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// run is the connect/read/reconnect loop.
func (s *Stream) run(ctx context.Context) {
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if failures >= wsMaxReconnects {
			s.logger.WithField("failures", failures).Warn("Reconnect cap reached, assuming market closed")
			s.Stop()
			return
		}

		if failures > 0 {
			stage := failures - 1
			if stage >= len(backoffStages) {
				stage = len(backoffStages) - 1
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffStages[stage]):
			}
		}

		if err := s.session(ctx); err != nil {
			failures++
			s.logger.WithError(err).WithField("failures", failures).Warn("Websocket session ended")
			continue
		}
		failures = 0
	}
}

// session runs one connected session: subscribe all codes, then read
// frames until the connection breaks or ctx is done.
func (s *Stream) session(ctx context.Context) error {
	key, err := s.approvalKey(ctx)
	if err != nil {
		return fmt.Errorf("approval key: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	s.mu.Lock()
	codes := append([]string(nil), s.codes...)
	s.mu.Unlock()

	for _, code := range codes {
		if err := conn.WriteJSON(subscribeMessage(key, trTick, code)); err != nil {
			return fmt.Errorf("subscribe %s: %w", code, err)
		}
	}
	s.logger.WithField("codes", len(codes)).Info("Websocket subscribed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		s.handleFrame(conn, key, string(raw))
	}
}

// handleFrame routes one raw frame: JSON control messages (subscribe acks
// and PINGPONG) vs pipe-delimited data frames.
func (s *Stream) handleFrame(conn *websocket.Conn, key, raw string) {
	if strings.HasPrefix(raw, "{") {
		if strings.Contains(raw, "PINGPONG") {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(raw))
		}
		return
	}

	trID, ticks, err := parseTickFrame(raw)
	if err != nil {
		s.logger.WithError(err).Debug("Unparseable websocket frame")
		return
	}
	if trID != trTick || s.onTick == nil {
		return
	}
	for _, tick := range ticks {
		s.onTick(tick)
	}
}

// subscribeMessage builds the TR registration envelope.
func subscribeMessage(approvalKey, trID, code string) map[string]interface{} {
	return map[string]interface{}{
		"header": map[string]string{
			"approval_key": approvalKey,
			"custtype":     "P",
			"tr_type":      "1",
			"content-type": "utf-8",
		},
		"body": map[string]interface{}{
			"input": map[string]string{
				"tr_id":  trID,
				"tr_key": code,
			},
		},
	}
}

// parseTickFrame decodes a pipe-delimited data frame. Layout:
// <encrypted>|<tr_id>|<record count>|<payload>, payload caret-separated
// with tickFieldCount fields per record.
func parseTickFrame(raw string) (string, []contracts.TickData, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 4 {
		return "", nil, fmt.Errorf("frame has %d segments", len(parts))
	}

	trID := parts[1]
	if trID != trTick {
		return trID, nil, nil
	}

	count := int(parseI64(parts[2]))
	if count < 1 {
		count = 1
	}

	fields := strings.Split(parts[3], "^")
	if len(fields) < tickFieldCount {
		return trID, nil, fmt.Errorf("payload has %d fields, need %d", len(fields), tickFieldCount)
	}

	ticks := make([]contracts.TickData, 0, count)
	for i := 0; i < count; i++ {
		base := i * tickFieldCount
		if base+tickFieldCount > len(fields) {
			break
		}
		ticks = append(ticks, contracts.TickData{
			Code:       fields[base+tickFieldCode],
			Time:       fields[base+tickFieldTime],
			Price:      parseI64(fields[base+tickFieldPrice]),
			ChangeRate: parseF64(fields[base+tickFieldChangeRate]),
			CumVolume:  parseI64(fields[base+tickFieldCumVolume]),
		})
	}
	return trID, ticks, nil
}
