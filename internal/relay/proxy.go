package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"formulachat/internal/models"
)

const (
	// relayCapacity bounds the in-flight chunks between the upstream reader
	// and the client stream. A slow client blocks the reader on send, which
	// caps local buffering at the channel capacity plus one chunk.
	relayCapacity = 8
	readChunkSize = 4096
)

// MessageStore is the slice of the session store the proxy needs.
type MessageStore interface {
	InsertMessage(ctx context.Context, chatID uuid.UUID, role models.Role, content string) (*models.Message, error)
}

// generatePayload is the upstream generator's structured response. The
// persisted assistant content is the chunk fragments concatenated in array
// order.
type generatePayload struct {
	Response []struct {
		Chunk string `json:"chunk"`
	} `json:"response"`
}

// Proxy forwards a prompt to the upstream generator and fans the response
// out to the client stream and an aggregation buffer for persistence.
type Proxy struct {
	store       MessageStore
	client      *http.Client
	generateURL string
	log         zerolog.Logger
}

// NewProxy builds a proxy against the configured generator endpoint. The
// upstream call carries no deadline; the upstream is a local, trusted peer
// and its outage surfaces as a connect error.
func NewProxy(store MessageStore, generateURL string, log zerolog.Logger) *Proxy {
	return &Proxy{
		store:       store,
		client:      &http.Client{},
		generateURL: generateURL,
		log:         log,
	}
}

// Generate runs one exchange: the prompt is persisted as a user message,
// forwarded upstream, and the upstream bytes are relayed to w in arrival
// order while an aggregation buffer accumulates them for the assistant
// message. ctx is the client request context; its cancellation is the only
// abandonment signal. Only an upstream connect failure is returned.
func (p *Proxy) Generate(ctx context.Context, chatID uuid.UUID, prompt string, w io.Writer, flush func()) error {
	// The prompt is recorded before the upstream call so the user half of
	// the exchange survives any later failure. Best-effort: the proxy goes
	// on without it.
	if _, err := p.store.InsertMessage(ctx, chatID, models.RoleUser, prompt); err != nil {
		p.log.Error().Err(err).Str("chat_id", chatID.String()).Msg("persist user prompt failed")
	}

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return fmt.Errorf("encode upstream request: %w", err)
	}
	// Deliberately not bound to the client context: abandonment stops the
	// read loop, and the transport tears the connection down when the body
	// is closed.
	req, err := http.NewRequest(http.MethodPost, p.generateURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.log.Warn().Int("status", resp.StatusCode).Msg("upstream returned non-ok status")
	}

	// The reader blocks on the relay send when the channel fills; returning
	// early on a client write failure must still release it, so the relay
	// runs under a derived context cancelled when Generate returns.
	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan []byte, relayCapacity)
	go p.readUpstream(relayCtx, chatID, resp.Body, chunks)

	for chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			// The client write path is dead; the reader notices through
			// the request context and winds the exchange down.
			p.log.Debug().Err(err).Str("chat_id", chatID.String()).Msg("client write failed")
			return nil
		}
		if flush != nil {
			flush()
		}
	}
	return nil
}

// readUpstream drives the upstream read loop: every received chunk is
// appended to the aggregation buffer, then forwarded on the relay channel.
// If the client has gone away the loop stops and nothing is persisted for
// the exchange. On normal completion the aggregated payload is parsed and
// stored as the assistant message before the channel closes.
func (p *Proxy) readUpstream(ctx context.Context, chatID uuid.UUID, upstream io.ReadCloser, chunks chan<- []byte) {
	defer close(chunks)
	defer upstream.Close()

	var agg bytes.Buffer
	buf := make([]byte, readChunkSize)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			agg.Write(buf[:n])
			// The buffered send below may succeed even after the client is
			// gone, so cancellation is checked on every chunk, not only
			// when the channel is full.
			if ctx.Err() != nil {
				p.log.Debug().Str("chat_id", chatID.String()).Msg("exchange abandoned by client")
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				p.log.Debug().Str("chat_id", chatID.String()).Msg("exchange abandoned by client")
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				p.log.Error().Err(err).Str("chat_id", chatID.String()).Msg("upstream read failed")
				return
			}
			break
		}
	}
	if ctx.Err() != nil {
		p.log.Debug().Str("chat_id", chatID.String()).Msg("exchange abandoned by client")
		return
	}
	p.persistAssistant(chatID, agg.Bytes())
}

// persistAssistant reconstructs the full reply from the aggregated payload
// and appends it to the chat. A payload that does not parse is dropped, not
// fatal; the log line is the only trace.
func (p *Proxy) persistAssistant(chatID uuid.UUID, raw []byte) {
	var payload generatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.log.Error().Err(err).Str("chat_id", chatID.String()).Msg("upstream payload parse failed, assistant reply dropped")
		return
	}
	var content strings.Builder
	for _, frag := range payload.Response {
		content.WriteString(frag.Chunk)
	}
	if _, err := p.store.InsertMessage(context.Background(), chatID, models.RoleAssistant, content.String()); err != nil {
		p.log.Error().Err(err).Str("chat_id", chatID.String()).Msg("persist assistant reply failed")
	}
}
