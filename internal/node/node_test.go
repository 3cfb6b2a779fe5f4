// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/asebaboot/internal/boot"
	"github.com/Thermoquad/asebaboot/internal/flash"
	"github.com/Thermoquad/asebaboot/internal/transport"
	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

const testNode = 1

// e2eGeometry uses 8 Kbyte pages: 4096 words, 2048 PAGE_DATA frames
func e2eGeometry() flash.Geometry {
	return flash.Geometry{
		BaseAddress:    0x08020000,
		PageSize:       8192,
		PagesPerSector: 16,
		FirstSector:    5,
		FirstPage:      0,
		AvailablePages: 16,
	}
}

type harness struct {
	bus    *transport.VirtualBus
	host   *transport.Endpoint
	hostFr *transport.Framer
	nodeEP *transport.Endpoint
	node   *Node
	dev    *flash.SimDevice
	mem    *boot.MemoryRetained
	apps   int
	done   chan result
}

type result struct {
	out Outcome
	err error
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		bus:  transport.NewVirtualBus(0),
		mem:  &boot.MemoryRetained{},
		done: make(chan result, 1),
	}
	h.host = h.bus.Attach()
	h.hostFr = transport.NewFramer(h.host)

	var err error
	h.dev, err = flash.NewDeviceFor(cfg.Geometry)
	require.NoError(t, err)

	opts = append([]Option{WithApplication(func(context.Context, *flash.Manager) bool {
		h.apps++
		return false
	})}, opts...)
	h.nodeEP = h.bus.Attach()
	h.node, err = New(cfg, h.nodeEP, h.dev, h.mem, opts...)
	require.NoError(t, err)
	return h
}

func (h *harness) boot(ctx context.Context) {
	go func() {
		out, err := h.node.Boot(ctx)
		h.done <- result{out: out, err: err}
	}()
}

func (h *harness) wait(t *testing.T) result {
	t.Helper()
	select {
	case r := <-h.done:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("node did not finish booting")
		return result{}
	}
}

func (h *harness) send(t *testing.T, words []uint16) {
	t.Helper()
	require.NoError(t, h.hostFr.Send(words, testNode))
}

func (h *harness) recv(t *testing.T) []uint16 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := h.host.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, uint8(testNode), f.Node())
	words, err := aseba.WordsFromFrame(f)
	require.NoError(t, err)
	return words
}

func (h *harness) expectAck(t *testing.T, want aseba.Status) {
	t.Helper()
	s, err := aseba.ParseAck(h.recv(t))
	require.NoError(t, err)
	require.Equal(t, want, s)
}

func (h *harness) expectQuiet(t *testing.T) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	_, ok, err := h.host.Recv()
	require.NoError(t, err)
	require.False(t, ok, "unexpected push")
}

func (h *harness) expectDescription(t *testing.T, geo flash.Geometry) {
	t.Helper()
	d, err := aseba.ParseDescription(h.recv(t))
	require.NoError(t, err)
	require.Equal(t, aseba.Description{
		PageSize:  uint16(geo.PageSize),
		FirstPage: uint16(geo.FirstPage),
		PageCount: uint16(geo.AvailablePages),
	}, d)
}

func pagePattern(n int, seed uint16) []uint16 {
	buf := make([]uint16, n)
	for i := range buf {
		buf[i] = seed + uint16(i)*0x0101
	}
	return buf
}

func (h *harness) sendPage(t *testing.T, words []uint16) {
	t.Helper()
	for i := 0; i < len(words); i += 2 {
		h.send(t, aseba.NewPageData(testNode, words[i], words[i+1]))
	}
}

// ============================================================
// End-to-end Tests
// ============================================================

func TestWriteReadPage(t *testing.T) {
	geo := e2eGeometry()
	h := newHarness(t, Config{
		NodeID:       testNode,
		Geometry:     geo,
		Timeout:      time.Second,
		PollInterval: 100 * time.Microsecond,
	})
	h.boot(context.Background())
	h.expectDescription(t, geo)

	h.send(t, aseba.NewWritePage(testNode, 0))
	h.expectAck(t, aseba.StatusOK)
	require.Equal(t, 1, h.dev.Erases[5])

	words := pagePattern(geo.PageWords(), 0x1234)
	require.Len(t, words, 4096)
	h.sendPage(t, words)
	h.expectAck(t, aseba.StatusOK)
	h.expectQuiet(t)

	h.send(t, aseba.NewReadPage(testNode, 0))
	for i := 0; i < 2048; i++ {
		w0, w1, err := aseba.ParsePageDataPush(h.recv(t))
		require.NoError(t, err)
		require.Equal(t, words[2*i], w0, "frame %d", i)
		require.Equal(t, words[2*i+1], w1, "frame %d", i)
	}
	h.expectQuiet(t)

	h.send(t, aseba.NewReset(testNode))
	h.expectAck(t, aseba.StatusOK)
	r := h.wait(t)
	require.NoError(t, r.err)
	require.Equal(t, Outcome{Resets: 1, Jumped: true}, r.out)
	require.Equal(t, 1, h.apps)
	require.NotEqual(t, boot.Sentinel, h.mem.Load())
}

func TestTimeoutBootsApplicationOnce(t *testing.T) {
	geo := e2eGeometry()
	h := newHarness(t, Config{
		NodeID:       testNode,
		Geometry:     geo,
		Timeout:      30 * time.Millisecond,
		PollInterval: time.Millisecond,
	})
	h.boot(context.Background())

	r := h.wait(t)
	require.NoError(t, r.err)
	require.Equal(t, Outcome{Resets: 1, Jumped: true, TimedOut: true}, r.out)
	require.Equal(t, 1, h.apps)

	// One description, nothing else
	h.expectDescription(t, geo)
	h.expectQuiet(t)
}

func TestSingleWordPageData(t *testing.T) {
	geo := e2eGeometry()
	h := newHarness(t, Config{
		NodeID:       testNode,
		Geometry:     geo,
		Timeout:      time.Second,
		PollInterval: 100 * time.Microsecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.boot(ctx)
	h.expectDescription(t, geo)

	h.send(t, aseba.NewWritePage(testNode, 3))
	h.expectAck(t, aseba.StatusOK)

	words := pagePattern(geo.PageWords(), 0xA000)
	h.sendPage(t, words[:4])
	h.send(t, []uint16{aseba.CmdPageData, testNode, 0xDEAD})
	h.expectAck(t, aseba.StatusInvalidSize)

	// The cursor did not move: the rest of the page completes it exactly
	h.sendPage(t, words[4:])
	h.expectAck(t, aseba.StatusOK)
	h.expectQuiet(t)
	for i, w := range words {
		require.Equal(t, w, h.node.Flash().ReadWord(3, i))
	}

	cancel()
	r := h.wait(t)
	require.ErrorIs(t, r.err, context.Canceled)
	require.False(t, r.out.Jumped)
	require.Zero(t, h.apps)
}

func TestForeignNodeDoesNotHoldBootloader(t *testing.T) {
	geo := e2eGeometry()
	h := newHarness(t, Config{
		NodeID:       testNode,
		Geometry:     geo,
		Timeout:      50 * time.Millisecond,
		PollInterval: time.Millisecond,
	})
	h.boot(context.Background())
	h.expectDescription(t, geo)

	require.NoError(t, h.hostFr.Send(aseba.NewWritePage(testNode+1, 0), testNode+1))

	r := h.wait(t)
	require.NoError(t, r.err)
	require.True(t, r.out.TimedOut)
	require.Empty(t, h.dev.Erases)
	h.expectQuiet(t)
}

func TestApplicationCanReenterBootloader(t *testing.T) {
	geo := e2eGeometry()
	runs := 0
	h := newHarness(t, Config{
		NodeID:       testNode,
		Geometry:     geo,
		Timeout:      20 * time.Millisecond,
		PollInterval: time.Millisecond,
	}, WithApplication(func(context.Context, *flash.Manager) bool {
		runs++
		return runs == 1
	}))
	h.boot(context.Background())

	r := h.wait(t)
	require.NoError(t, r.err)
	require.Equal(t, Outcome{Resets: 3, Jumped: true, TimedOut: true}, r.out)
	require.Equal(t, 2, runs)
}

func TestBringUpFailuresAreNotFatal(t *testing.T) {
	geo := e2eGeometry()
	var baud int
	h := newHarness(t, Config{
		NodeID:       testNode,
		Geometry:     geo,
		Timeout:      20 * time.Millisecond,
		PollInterval: time.Millisecond,
	},
		WithBusInit(func() error { return errors.New("no transceiver") }),
		WithUARTInit(func(b int) error {
			baud = b
			return errors.New("no uart")
		}),
	)
	h.boot(context.Background())

	r := h.wait(t)
	require.NoError(t, r.err)
	require.True(t, r.out.Jumped)
	require.Equal(t, DefaultBaudRate, baud)
	h.expectDescription(t, geo)
}

func TestPendingJumpSkipsBootloader(t *testing.T) {
	geo := e2eGeometry()
	h := newHarness(t, Config{NodeID: testNode, Geometry: geo, Timeout: time.Hour})
	h.mem.Store(boot.Sentinel)
	h.boot(context.Background())

	r := h.wait(t)
	require.NoError(t, r.err)
	require.Equal(t, Outcome{Jumped: true}, r.out)
	h.expectQuiet(t)
}

func TestNew_InvalidGeometry(t *testing.T) {
	geo := e2eGeometry()
	dev, err := flash.NewDeviceFor(geo)
	require.NoError(t, err)
	geo.PageSize = 3
	_, err = New(Config{Geometry: geo}, transport.NewVirtualBus(0).Attach(), dev, &boot.MemoryRetained{})
	require.Error(t, err)
}

func TestBusFailureEndsClaimedSession(t *testing.T) {
	geo := e2eGeometry()
	h := newHarness(t, Config{
		NodeID:       testNode,
		Geometry:     geo,
		Timeout:      time.Second,
		PollInterval: 100 * time.Microsecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.boot(ctx)
	h.expectDescription(t, geo)

	h.send(t, aseba.NewWritePage(testNode, 0))
	h.expectAck(t, aseba.StatusOK)

	// The host claimed the node, so only the bus failing ends the session
	require.NoError(t, h.nodeEP.Close())

	r := h.wait(t)
	require.ErrorIs(t, r.err, transport.ErrClosed)
	require.False(t, r.out.Jumped)
	require.False(t, r.out.TimedOut)
	require.Equal(t, 0, h.apps)
}
