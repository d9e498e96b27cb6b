// Package runtime talks to the blockchain node: it submits signed
// extrinsics over the WebSocket RPC and reports their fate as a sum-typed
// outcome the state machine can switch on.
package runtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Error kinds of the blockchain family.
var (
	ErrApiNotConnected      = errors.New("ApiNotConnected")
	ErrAppNotFound          = errors.New("AppNotFound")
	ErrCollaboratorNotFound = errors.New("CollaboratorNotFound")
	ErrMissingRequiredEvent = errors.New("MissingRequiredEvent")
)

// Dispatch error names recognized inside ExtrinsicFailed outcomes.
const (
	DispatchVoucherSizeLimitExceeded = "VoucherSizeLimitExceeded"
)

// Event is one runtime event emitted while the extrinsic executed.
type Event struct {
	Section string            `json:"section"`
	Method  string            `json:"method"`
	Values  map[string]string `json:"values"`
}

// SubmitOutcome is the result of submitting an extrinsic. Exactly one of the
// three variants is returned; callers type-switch.
type SubmitOutcome interface {
	submitOutcome()
}

// Finalized means the extrinsic was included in a finalized block. Events
// carries everything the runtime emitted for it; success of the call itself
// is judged by the presence of the expected events.
type Finalized struct {
	BlockHash string
	Events    []Event
}

// Failed means the extrinsic executed and the runtime reported a dispatch
// error (ExtrinsicFailed). Kind is the dispatch error name when the node
// could resolve it.
type Failed struct {
	Kind string
	Msg  string
}

// Rejected means the extrinsic never executed: the signing step failed or
// the node refused the submission. Retriable without any state change.
type Rejected struct {
	Err error
}

func (Finalized) submitOutcome() {}
func (Failed) submitOutcome()    {}
func (Rejected) submitOutcome()  {}

// FindEvent returns the first event matching section and method.
func (f Finalized) FindEvent(section, method string) (Event, bool) {
	for _, e := range f.Events {
		if e.Section == section && e.Method == method {
			return e, true
		}
	}
	return Event{}, false
}

// Event identifiers the on-chain creator inspects.
const (
	SectionContent = "content"
	SectionStorage = "storage"

	MethodVideoCreated        = "VideoCreated"
	MethodDataObjectsUploaded = "DataObjectsUploaded"
)

// ExtractCreateVideoResult reads the new video id and its data object ids
// out of a finalized createVideo submission. Both the VideoCreated and the
// DataObjectsUploaded events must be present; a finalized block without them
// is a MissingRequiredEvent failure.
func ExtractCreateVideoResult(f Finalized) (*CreateVideoResult, error) {
	created, ok := f.FindEvent(SectionContent, MethodVideoCreated)
	if !ok {
		return nil, fmt.Errorf("%w: content.VideoCreated not emitted", ErrMissingRequiredEvent)
	}
	if _, ok := f.FindEvent(SectionStorage, MethodDataObjectsUploaded); !ok {
		return nil, fmt.Errorf("%w: storage.DataObjectsUploaded not emitted", ErrMissingRequiredEvent)
	}

	videoID, err := strconv.ParseInt(created.Values["videoId"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed videoId %q", ErrMissingRequiredEvent, created.Values["videoId"])
	}

	assetIDs := strings.Split(created.Values["dataObjectIds"], ",")
	if len(assetIDs) != 2 || assetIDs[0] == "" || assetIDs[1] == "" {
		return nil, fmt.Errorf("%w: expected [media, thumbnail] object ids, got %q",
			ErrMissingRequiredEvent, created.Values["dataObjectIds"])
	}

	return &CreateVideoResult{VideoID: videoID, AssetIDs: assetIDs}, nil
}
