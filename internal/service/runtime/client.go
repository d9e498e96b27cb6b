package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CreateVideoIntent describes the on-chain video record to create, with its
// two data objects ordered [media, thumbnail].
type CreateVideoIntent struct {
	ChannelID                int64
	CollaboratorID           string
	Title                    string
	Description              string
	Language                 string
	Category                 string
	PublishedBeforeJoystream time.Time
	MediaSize                int64
	MediaHash                string
	ThumbnailSize            int64
	ThumbnailHash            string
}

// CreateVideoResult is what a successful creation yields: the on-chain video
// id plus the data object ids, ordered [media, thumbnail].
type CreateVideoResult struct {
	VideoID  int64
	AssetIDs []string
}

// ExtrinsicSigner builds and signs the createVideo extrinsic. The concrete
// signer lives outside the sync engine; a failed signing surfaces as a
// Rejected outcome.
type ExtrinsicSigner interface {
	SignCreateVideo(intent CreateVideoIntent, nonce uint64) (string, error)
}

// Client submits extrinsics to the node over the WebSocket RPC and watches
// them to finalization.
type Client struct {
	endpoint string
	signer   ExtrinsicSigner
	signers  *SignerLock
	log      *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
	nonces map[string]uint64
}

// NewClient creates a runtime client for the given node endpoint.
func NewClient(endpoint string, signer ExtrinsicSigner, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		signer:   signer,
		signers:  NewSignerLock(),
		log:      log,
		nonces:   make(map[string]uint64),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	Method  string          `json:"method"`
	Params  struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// extrinsicStatus is one status update of a watched extrinsic.
type extrinsicStatus struct {
	Ready     *struct{} `json:"ready,omitempty"`
	Broadcast []string  `json:"broadcast,omitempty"`
	InBlock   string    `json:"inBlock,omitempty"`
	Finalized string    `json:"finalized,omitempty"`
	Dropped   *struct{} `json:"dropped,omitempty"`
	Invalid   *struct{} `json:"invalid,omitempty"`

	// Populated alongside the finalized hash.
	Events        []Event `json:"events,omitempty"`
	DispatchError string  `json:"dispatchError,omitempty"`
}

// Connect dials the node. Safe to call again after a transport failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrApiNotConnected, c.endpoint, err)
	}
	c.conn = conn
	c.log.Info("connected to joystream node", zap.String("endpoint", c.endpoint))
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dropConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// SubmitCreateVideo signs and submits a createVideo extrinsic, holding the
// collaborator's signer lock for the whole submit-and-watch so nonces stay
// sequential. The returned outcome is one of Finalized, Failed or Rejected;
// transport failures are returned as an error (ApiNotConnected kind).
func (c *Client) SubmitCreateVideo(ctx context.Context, intent CreateVideoIntent) (SubmitOutcome, error) {
	release := c.signers.Acquire(intent.CollaboratorID)
	defer release()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	nonce := c.nonces[intent.CollaboratorID]
	signed, err := c.signer.SignCreateVideo(intent, nonce)
	if err != nil {
		return Rejected{Err: fmt.Errorf("sign createVideo: %w", err)}, nil
	}

	c.nextID++
	id := c.nextID
	request := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "author_submitAndWatchExtrinsic",
		Params:  []interface{}{signed},
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		_ = c.conn.SetReadDeadline(deadline)
	}

	if err := c.conn.WriteJSON(request); err != nil {
		c.dropConnLocked()
		return nil, fmt.Errorf("%w: submit: %v", ErrApiNotConnected, err)
	}

	outcome, err := c.watchLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	// The nonce advances only if the extrinsic actually entered the pool.
	if _, rejected := outcome.(Rejected); !rejected {
		c.nonces[intent.CollaboratorID] = nonce + 1
	}
	return outcome, nil
}

// watchLocked consumes messages until the watched extrinsic reaches a
// terminal status.
func (c *Client) watchLocked(ctx context.Context, requestID uint64) (SubmitOutcome, error) {
	var subscription uint64
	subscribed := false

	for {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrApiNotConnected, ctx.Err())
		}

		var response rpcResponse
		if err := c.conn.ReadJSON(&response); err != nil {
			c.dropConnLocked()
			return nil, fmt.Errorf("%w: read: %v", ErrApiNotConnected, err)
		}

		// Subscription acknowledgement for our request.
		if response.ID == requestID {
			if response.Error != nil {
				// The node refused the extrinsic outright (bad nonce, stale
				// transaction, pool full). Retriable.
				return Rejected{Err: fmt.Errorf("node rejected extrinsic: %s", response.Error.Message)}, nil
			}
			if err := json.Unmarshal(response.Result, &subscription); err != nil {
				return nil, fmt.Errorf("%w: decode subscription id: %v", ErrApiNotConnected, err)
			}
			subscribed = true
			continue
		}

		if !subscribed || response.Params.Result == nil || response.Params.Subscription != subscription {
			continue
		}

		var status extrinsicStatus
		if err := json.Unmarshal(response.Params.Result, &status); err != nil {
			// Some status updates are bare strings ("ready"); skip them.
			continue
		}

		switch {
		case status.Dropped != nil, status.Invalid != nil:
			return Rejected{Err: fmt.Errorf("extrinsic dropped from pool")}, nil
		case status.Finalized != "":
			if status.DispatchError != "" {
				return Failed{
					Kind: dispatchErrorKind(status.DispatchError),
					Msg:  status.DispatchError,
				}, nil
			}
			return Finalized{BlockHash: status.Finalized, Events: status.Events}, nil
		}
	}
}

// dispatchErrorKind extracts the runtime error name out of a dispatch error
// string such as "storage.VoucherSizeLimitExceeded".
func dispatchErrorKind(dispatchError string) string {
	if idx := strings.LastIndexByte(dispatchError, '.'); idx >= 0 {
		return dispatchError[idx+1:]
	}
	return dispatchError
}
