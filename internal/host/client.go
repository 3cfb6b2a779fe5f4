// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package host programs a bootloader node over a CAN bus.
//
// A Client talks to one node. It learns the page layout from the node's
// description push, then writes, reads and resets pages with the
// request/acknowledge exchange of the bootloader protocol.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/asebaboot/internal/transport"
	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// Client programs one node. It is not safe for concurrent use.
type Client struct {
	bus    transport.WaitBus
	node   uint8
	config Config
	desc   *aseba.Description
}

// New creates a client for node on bus.
//
// Example:
//
//	c := host.New(bus, 1, host.WithVerify(true), host.WithTimeout(time.Second))
//	if _, err := c.WaitDescription(ctx); err != nil { ... }
//	err := c.Flash(ctx, image, 0)
func New(bus transport.WaitBus, node uint8, opts ...Option) *Client {
	if bus == nil {
		panic("bus cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{bus: bus, node: node, config: cfg, desc: cfg.Description}
}

// Node returns the id of the node the client talks to
func (c *Client) Node() uint8 {
	return c.node
}

// Description returns the page layout once known
func (c *Client) Description() (aseba.Description, bool) {
	if c.desc == nil {
		return aseba.Description{}, false
	}
	return *c.desc, true
}

// WaitDescription waits for the node to announce itself, which it does once
// after every reset into the bootloader.
func (c *Client) WaitDescription(ctx context.Context) (aseba.Description, error) {
	for {
		words, err := c.next(ctx)
		if err != nil {
			return aseba.Description{}, fmt.Errorf("wait description: %w", err)
		}
		if words[0] != aseba.PushDescription {
			c.logDebug("skipping push", "push", aseba.FormatWords(words))
			continue
		}
		d, err := aseba.ParseDescription(words)
		if err != nil {
			return aseba.Description{}, err
		}
		if err := d.Validate(); err != nil {
			c.logError("node sent unusable description", "node", c.node, "error", err)
			return aseba.Description{}, err
		}
		c.desc = &d
		c.logInfo("node described",
			"node", c.node,
			"page_size", d.PageSize,
			"first_page", d.FirstPage,
			"page_count", d.PageCount,
		)
		return d, nil
	}
}

// Reset asks the node to start its application and waits for the
// acknowledgement
func (c *Client) Reset(ctx context.Context) error {
	if err := c.send(aseba.NewReset(c.node)); err != nil {
		return err
	}
	return c.expectOK(ctx, "reset")
}

// WritePage programs one page. page is the wire page number, which starts
// at the description's first page.
func (c *Client) WritePage(ctx context.Context, page uint16, words []uint16) error {
	d, err := c.checkPage(int(page))
	if err != nil {
		return err
	}
	if len(words) != d.PageWords() {
		return fmt.Errorf("page %d: got %d words, page holds %d", page, len(words), d.PageWords())
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if attempt > 0 {
			c.logError("retrying page", "page", page, "attempt", attempt, "error", lastErr)
		}
		lastErr = c.writePage(ctx, page, words)
		if lastErr == nil || !errors.Is(lastErr, ErrTimeout) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) writePage(ctx context.Context, page uint16, words []uint16) error {
	c.drain()
	if err := c.send(aseba.NewWritePage(c.node, page)); err != nil {
		return err
	}
	if err := c.expectOK(ctx, "write page"); err != nil {
		return err
	}

	for i := 0; i < len(words); i += 2 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.send(aseba.NewPageData(c.node, words[i], words[i+1])); err != nil {
			return err
		}
		// The node only speaks mid-page to reject a frame
		if push, ok := c.poll(); ok {
			if s, err := aseba.ParseAck(push); err == nil {
				return &AckError{Operation: fmt.Sprintf("page data %d", i), Status: s}
			}
		}
		if c.config.FrameDelay > 0 {
			time.Sleep(c.config.FrameDelay)
		}
	}

	return c.expectOK(ctx, "commit page")
}

// ReadPage streams one page back from the node
func (c *Client) ReadPage(ctx context.Context, page uint16) ([]uint16, error) {
	d, err := c.checkPage(int(page))
	if err != nil {
		return nil, err
	}
	c.drain()
	if err := c.send(aseba.NewReadPage(c.node, page)); err != nil {
		return nil, err
	}

	out := make([]uint16, 0, d.PageWords())
	for len(out) < d.PageWords() {
		words, err := c.nextWithin(ctx)
		if err != nil {
			return nil, fmt.Errorf("read page %d at word %d: %w", page, len(out), err)
		}
		switch words[0] {
		case aseba.PushPageData:
			w0, w1, err := aseba.ParsePageDataPush(words)
			if err != nil {
				return nil, err
			}
			out = append(out, w0, w1)
		case aseba.PushAck:
			s, err := aseba.ParseAck(words)
			if err != nil {
				return nil, err
			}
			return nil, &AckError{Operation: "read page", Status: s}
		default:
			c.logDebug("skipping push", "push", aseba.FormatWords(words))
		}
	}
	return out, nil
}

// Flash writes image into consecutive pages starting at startPage, in
// ascending order, verifying each page when enabled.
func (c *Client) Flash(ctx context.Context, image []byte, startPage uint16) error {
	startTime := time.Now()
	c.reportProgress(Progress{Phase: PhaseDescribing})

	d, ok := c.Description()
	if !ok {
		var err error
		if d, err = c.WaitDescription(ctx); err != nil {
			return err
		}
	}

	if err := d.Validate(); err != nil {
		return err
	}
	pages, err := SplitPages(image, int(d.PageSize))
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return errors.New("image is empty")
	}
	last := int(startPage) + len(pages) - 1
	if _, err := c.checkPage(int(startPage)); err != nil {
		return err
	}
	if _, err := c.checkPage(last); err != nil {
		return err
	}

	c.logInfo("flashing",
		"node", c.node,
		"bytes", len(image),
		"pages", len(pages),
		"first", startPage,
	)

	bytesWritten := 0
	for i, words := range pages {
		page := startPage + uint16(i)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}
		if err := c.WritePage(ctx, page, words); err != nil {
			return fmt.Errorf("write page %d: %w", page, err)
		}

		if c.config.Verify {
			c.reportProgress(Progress{
				Phase:        PhaseVerifying,
				CurrentPage:  i,
				TotalPages:   len(pages),
				Percentage:   float64(i) / float64(len(pages)) * 100,
				BytesWritten: bytesWritten,
				ElapsedTime:  time.Since(startTime),
			})
			if err := c.verifyPage(ctx, page, words); err != nil {
				return err
			}
		}

		bytesWritten += min(len(image)-i*int(d.PageSize), int(d.PageSize))
		c.reportProgress(Progress{
			Phase:        PhaseProgramming,
			CurrentPage:  i + 1,
			TotalPages:   len(pages),
			Percentage:   float64(i+1) / float64(len(pages)) * 100,
			BytesWritten: bytesWritten,
			ElapsedTime:  time.Since(startTime),
		})
	}

	c.reportProgress(Progress{
		Phase:        PhaseComplete,
		CurrentPage:  len(pages),
		TotalPages:   len(pages),
		Percentage:   100,
		BytesWritten: bytesWritten,
		ElapsedTime:  time.Since(startTime),
	})
	c.logInfo("flashing complete",
		"pages", len(pages),
		"bytes", bytesWritten,
		"elapsed", time.Since(startTime).String(),
	)
	return nil
}

func (c *Client) verifyPage(ctx context.Context, page uint16, want []uint16) error {
	got, err := c.ReadPage(ctx, page)
	if err != nil {
		return fmt.Errorf("verify page %d: %w", page, err)
	}
	for i := range want {
		if got[i] != want[i] {
			return &VerifyError{Page: page, Word: i, Want: want[i], Got: got[i]}
		}
	}
	return nil
}

func (c *Client) checkPage(page int) (aseba.Description, error) {
	d, ok := c.Description()
	if !ok {
		return d, ErrNoDescription
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	if page < int(d.FirstPage) || page >= int(d.FirstPage)+int(d.PageCount) {
		return d, &PageRangeError{Page: page, FirstPage: d.FirstPage, PageCount: d.PageCount}
	}
	return d, nil
}

func (c *Client) send(words []uint16) error {
	f, err := aseba.FrameFromWords(c.node, words)
	if err != nil {
		return err
	}
	if err := c.bus.Send(f); err != nil {
		return fmt.Errorf("send %s: %w", aseba.FormatOpcode(words[0]), err)
	}
	return nil
}

func (c *Client) expectOK(ctx context.Context, op string) error {
	for {
		words, err := c.nextWithin(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if words[0] != aseba.PushAck {
			c.logDebug("skipping push", "push", aseba.FormatWords(words))
			continue
		}
		s, err := aseba.ParseAck(words)
		if err != nil {
			return err
		}
		if s != aseba.StatusOK {
			return &AckError{Operation: op, Status: s}
		}
		return nil
	}
}

// nextWithin waits for the next push, bounded by the reply timeout
func (c *Client) nextWithin(ctx context.Context) ([]uint16, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return c.next(ctx)
}

// next waits for the next push from our node
func (c *Client) next(ctx context.Context) ([]uint16, error) {
	for {
		f, err := c.bus.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, err
		}
		if words, ok := c.accept(f); ok {
			return words, nil
		}
	}
}

// poll returns a pending push from our node without blocking
func (c *Client) poll() ([]uint16, bool) {
	for {
		f, ok, err := c.bus.Recv()
		if err != nil || !ok {
			return nil, false
		}
		if words, ok := c.accept(f); ok {
			return words, true
		}
	}
}

// drain discards stale pushes left from an earlier exchange
func (c *Client) drain() {
	for {
		words, ok := c.poll()
		if !ok {
			return
		}
		c.logDebug("discarding stale push", "push", aseba.FormatWords(words))
	}
}

// accept filters frames down to pushes sent by our node
func (c *Client) accept(f aseba.Frame) ([]uint16, bool) {
	if f.Extended || f.RTR || f.Type() != aseba.TypeSmallPacket || f.Node() != c.node {
		return nil, false
	}
	words, err := aseba.WordsFromFrame(f)
	if err != nil || len(words) == 0 || aseba.IsCommand(words[0]) {
		return nil, false
	}
	return words, true
}

func (c *Client) reportProgress(progress Progress) {
	if c.config.ProgressCallback != nil {
		c.config.ProgressCallback(progress)
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Error(msg, keysAndValues...)
	}
}
