package document

import (
	"context"
	"fmt"
	"sync"

	"github.com/docloom/collab-sdk/pkg/realtime"
	"github.com/docloom/collab-sdk/pkg/syncclient"
)

// fakeSync is a syncclient.Adapter test double recording every Pull/Push
// call it receives, so assertions can check ordering (pull-before-push,
// snapshot-before-incremental) and payload shape directly.
type fakeSync struct {
	mu sync.Mutex

	pullCalls []fakePullCall
	pushCalls []fakePushCall

	// pullResult, when non-nil, is returned verbatim from the next Pull
	// call (and then cleared unless pullResultSticky is set).
	pullResult       *syncclient.PullResult
	pullResultSticky bool
	pullErr          error
	pushErr          error
}

type fakePullCall struct {
	DocID           string
	StateVector     []byte
	RequestSnapshot bool
}

type fakePushCall struct {
	DocID      string
	Update     []byte
	IsSnapshot bool
}

func (f *fakeSync) Pull(ctx context.Context, docID string, stateVector []byte, requestSnapshot bool) (syncclient.PullResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls = append(f.pullCalls, fakePullCall{DocID: docID, StateVector: append([]byte(nil), stateVector...), RequestSnapshot: requestSnapshot})
	if f.pullErr != nil {
		return syncclient.PullResult{}, f.pullErr
	}
	if f.pullResult != nil {
		r := *f.pullResult
		if !f.pullResultSticky {
			f.pullResult = nil
		}
		return r, nil
	}
	return syncclient.PullResult{}, nil
}

func (f *fakeSync) Push(ctx context.Context, docID string, update []byte, isSnapshot bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushCalls = append(f.pushCalls, fakePushCall{DocID: docID, Update: append([]byte(nil), update...), IsSnapshot: isSnapshot})
	if f.pushErr != nil {
		return "", f.pushErr
	}
	return fmt.Sprintf("%d", len(f.pushCalls)), nil
}

func (f *fakeSync) calls() ([]fakePullCall, []fakePushCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakePullCall(nil), f.pullCalls...), append([]fakePushCall(nil), f.pushCalls...)
}

var _ syncclient.Adapter = (*fakeSync)(nil)

// fakeRealtime is a realtime.Adapter test double: Publish is recorded;
// Subscribe stores the handler so a test can deliver an inbound update by
// calling deliver directly, simulating the transport pushing a frame.
type fakeRealtime struct {
	mu        sync.Mutex
	handlers  map[string][]realtime.InboundHandler
	published []fakePublish
	publishErr error
}

type fakePublish struct {
	DocID  string
	Update []byte
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{handlers: make(map[string][]realtime.InboundHandler)}
}

func (f *fakeRealtime) Subscribe(ctx context.Context, docID string, handler realtime.InboundHandler) (realtime.Unsubscribe, error) {
	f.mu.Lock()
	f.handlers[docID] = append(f.handlers[docID], handler)
	idx := len(f.handlers[docID]) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers[docID][idx] = nil
	}, nil
}

func (f *fakeRealtime) Publish(ctx context.Context, docID string, update []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, fakePublish{DocID: docID, Update: append([]byte(nil), update...)})
	return nil
}

func (f *fakeRealtime) deliver(docID string, update []byte) {
	f.mu.Lock()
	handlers := append([]realtime.InboundHandler(nil), f.handlers[docID]...)
	f.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(update)
		}
	}
}

func (f *fakeRealtime) publishes() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakePublish(nil), f.published...)
}

var _ realtime.Adapter = (*fakeRealtime)(nil)
