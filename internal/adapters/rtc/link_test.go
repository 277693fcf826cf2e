package rtc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probe struct {
	signals chan domain.SignalBlob
	errs    chan error
}

func newProbe() *probe {
	return &probe{signals: make(chan domain.SignalBlob, 16), errs: make(chan error, 16)}
}

func (p *probe) callbacks() core.LinkCallbacks {
	return core.LinkCallbacks{
		OnSignal: func(b domain.SignalBlob) { p.signals <- b },
		OnStream: func(core.RemoteStream) {},
		OnError:  func(err error) { p.errs <- err },
	}
}

func localFactory(t *testing.T, trickle bool) *Factory {
	t.Helper()
	f, err := NewFactory(Options{Trickle: trickle})
	require.NoError(t, err)
	return f
}

func newTestLink(t *testing.T, f *Factory, remote string, initiator bool, p *probe) *Link {
	t.Helper()
	pl, err := f.NewLink(core.LinkOptions{
		Remote:    domain.Member{UserID: domain.UserID(remote), SocketID: "s-" + domain.SocketID(remote)},
		Initiator: initiator,
	}, p.callbacks())
	require.NoError(t, err)
	t.Cleanup(pl.Destroy)
	return pl.(*Link)
}

func waitBlob(t *testing.T, ch <-chan domain.SignalBlob) wireSignal {
	t.Helper()
	var msg wireSignal
	require.NoError(t, json.Unmarshal(nextBlob(t, ch), &msg))
	return msg
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("no error reported")
	}
	return nil
}

func TestInitiatorEmitsOffer(t *testing.T) {
	p := newProbe()
	newTestLink(t, localFactory(t, false), "B", true, p)

	msg := waitBlob(t, p.signals)
	assert.Equal(t, "offer", msg.Type)
	assert.Contains(t, msg.SDP, "m=video")
	assert.Contains(t, msg.SDP, "m=audio")
	assert.Contains(t, msg.SDP, "a=recvonly")
}

func TestResponderStaysQuiet(t *testing.T) {
	p := newProbe()
	newTestLink(t, localFactory(t, false), "A", false, p)

	select {
	case b := <-p.signals:
		t.Fatalf("responder emitted %s", b)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOfferAnswerExchange(t *testing.T) {
	f := localFactory(t, false)
	pa, pb := newProbe(), newProbe()
	a := newTestLink(t, f, "B", true, pa)
	b := newTestLink(t, f, "A", false, pb)

	offer := nextBlob(t, pa.signals)
	b.Signal(offer)
	answer := nextBlob(t, pb.signals)
	a.Signal(answer)

	require.Eventually(t, func() bool {
		return a.signalingState() == webrtc.SignalingStateStable &&
			b.signalingState() == webrtc.SignalingStateStable
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, pa.errs)
	assert.Empty(t, pb.errs)
}

func TestTrickleNegotiates(t *testing.T) {
	f := localFactory(t, true)
	pa, pb := newProbe(), newProbe()
	a := newTestLink(t, f, "B", true, pa)
	b := newTestLink(t, f, "A", false, pb)

	var wg sync.WaitGroup
	pipe := func(from *probe, to *Link, kinds map[string]int, mu *sync.Mutex) {
		defer wg.Done()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case blob := <-from.signals:
				var msg wireSignal
				_ = json.Unmarshal(blob, &msg)
				mu.Lock()
				kinds[msg.Type]++
				mu.Unlock()
				to.Signal(blob)
			case <-deadline:
				return
			}
		}
	}
	var mu sync.Mutex
	sent := map[string]int{}
	wg.Add(2)
	go pipe(pa, b, sent, &mu)
	go pipe(pb, a, sent, &mu)
	wg.Wait()

	assert.Equal(t, 1, sent["offer"])
	assert.Equal(t, 1, sent["answer"])
	assert.Equal(t, webrtc.SignalingStateStable, a.signalingState())
}

func TestMalformedSignalReportsError(t *testing.T) {
	p := newProbe()
	l := newTestLink(t, localFactory(t, false), "A", false, p)

	l.Signal(domain.SignalBlob(`not json`))
	assert.ErrorContains(t, waitErr(t, p.errs), "malformed signal")

	l.Signal(domain.SignalBlob(`{"type":"renegotiate"}`))
	assert.ErrorContains(t, waitErr(t, p.errs), "unknown signal type")

	l.Signal(domain.SignalBlob(`{"type":"answer","sdp":"v=0"}`))
	assert.ErrorContains(t, waitErr(t, p.errs), "apply answer")
}

func TestCandidateBeforeDescriptionIsQueued(t *testing.T) {
	p := newProbe()
	l := newTestLink(t, localFactory(t, false), "A", false, p)

	l.Signal(domain.SignalBlob(`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host","sdpMid":"0"}}`))

	select {
	case err := <-p.errs:
		t.Fatalf("queued candidate must not fail: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	p := newProbe()
	l := newTestLink(t, localFactory(t, false), "B", true, p)

	l.Destroy()
	assert.NotPanics(t, l.Destroy)
	assert.NotPanics(t, func() { l.Signal(domain.SignalBlob(`{"type":"offer","sdp":""}`)) })

	// drain anything emitted before Destroy returned
	for len(p.signals) > 0 {
		<-p.signals
	}
	select {
	case b := <-p.signals:
		t.Fatalf("signal after destroy: %s", b)
	case err := <-p.errs:
		t.Fatalf("error after destroy: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func nextBlob(t *testing.T, ch <-chan domain.SignalBlob) domain.SignalBlob {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(10 * time.Second):
		t.Fatalf("no signal emitted")
	}
	return nil
}
