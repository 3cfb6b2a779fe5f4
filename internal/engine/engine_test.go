// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/asebaboot/internal/flash"
	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// recorder captures every push
type recorder struct {
	pushes [][]uint16
}

func (r *recorder) Push(words []uint16) error {
	r.pushes = append(r.pushes, append([]uint16(nil), words...))
	return nil
}

func (r *recorder) acks() []aseba.Status {
	var out []aseba.Status
	for _, p := range r.pushes {
		if s, err := aseba.ParseAck(p); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) clear() {
	r.pushes = nil
}

type rebootCounter struct {
	n int
}

func (r *rebootCounter) RebootToApplication() {
	r.n++
}

// spyFlash records page commits and can inject failures
type spyFlash struct {
	*flash.Manager
	writes   []writeCall
	eraseErr error
	writeErr error
}

type writeCall struct {
	page int
	buf  []uint16
}

func (s *spyFlash) ErasePage(page int) error {
	if s.eraseErr != nil {
		return s.eraseErr
	}
	return s.Manager.ErasePage(page)
}

func (s *spyFlash) WritePage(page int, buf []uint16) error {
	s.writes = append(s.writes, writeCall{page: page, buf: append([]uint16(nil), buf...)})
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.Manager.WritePage(page, buf)
}

func testGeometry() flash.Geometry {
	return flash.Geometry{
		BaseAddress:    0x1000,
		PageSize:       64,
		PagesPerSector: 4,
		FirstSector:    2,
		FirstPage:      0,
		AvailablePages: 8,
	}
}

type fixture struct {
	eng    *Engine
	flash  *spyFlash
	dev    *flash.SimDevice
	out    *recorder
	reboot *rebootCounter
}

func newFixture(t *testing.T, geo flash.Geometry) *fixture {
	t.Helper()
	dev, err := flash.NewDeviceFor(geo)
	require.NoError(t, err)
	m, err := flash.NewManager(dev, geo)
	require.NoError(t, err)

	f := &fixture{
		flash:  &spyFlash{Manager: m},
		dev:    dev,
		out:    &recorder{},
		reboot: &rebootCounter{},
	}
	f.eng, err = New(f.flash, f.out, f.reboot, NewSession(geo.PageWords()))
	require.NoError(t, err)
	return f
}

func pagePattern(n int, seed uint16) []uint16 {
	buf := make([]uint16, n)
	for i := range buf {
		buf[i] = seed ^ uint16(i*7)
	}
	return buf
}

// sendPage streams words as PAGE_DATA pairs
func (f *fixture) sendPage(words []uint16) {
	for i := 0; i < len(words); i += 2 {
		f.eng.Dispatch(aseba.CmdPageData, []uint16{words[i], words[i+1]})
	}
}

// ============================================================
// Construction Tests
// ============================================================

func TestNew_RejectsWrongBuffer(t *testing.T) {
	geo := testGeometry()
	dev, err := flash.NewDeviceFor(geo)
	require.NoError(t, err)
	m, err := flash.NewManager(dev, geo)
	require.NoError(t, err)

	_, err = New(m, &recorder{}, &rebootCounter{}, NewSession(geo.PageWords()-2))
	require.Error(t, err)
}

func TestDescription(t *testing.T) {
	f := newFixture(t, testGeometry())
	require.NoError(t, f.eng.SendDescription())
	require.Len(t, f.out.pushes, 1)

	d, err := aseba.ParseDescription(f.out.pushes[0])
	require.NoError(t, err)
	require.Equal(t, aseba.Description{PageSize: 64, FirstPage: 0, PageCount: 8}, d)
}

func TestDescription_Default(t *testing.T) {
	geo := flash.DefaultGeometry()
	dev := flash.NewSTM32F4Device()
	m, err := flash.NewManager(dev, geo)
	require.NoError(t, err)
	eng, err := New(m, &recorder{}, &rebootCounter{}, NewSession(geo.PageWords()))
	require.NoError(t, err)
	require.Equal(t, aseba.Description{PageSize: 16384, FirstPage: 0, PageCount: 56}, eng.Description())
}

// ============================================================
// WRITE_PAGE Tests
// ============================================================

func TestWritePage_EntersProgramming(t *testing.T) {
	f := newFixture(t, testGeometry())

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{4})

	require.Equal(t, []aseba.Status{aseba.StatusOK}, f.out.acks())
	s := f.eng.Session()
	require.True(t, s.ProgrammingMode)
	require.Equal(t, 4, s.CurrentPage)
	require.Zero(t, s.CurrentWord)
	require.Equal(t, 1, f.dev.Erases[3], "page 4 heads sector 3")
}

func TestWritePage_NonHeadSkipsErase(t *testing.T) {
	f := newFixture(t, testGeometry())

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{5})

	require.Equal(t, []aseba.Status{aseba.StatusOK}, f.out.acks())
	require.Empty(t, f.dev.Erases)
}

func TestWritePage_OutOfRange(t *testing.T) {
	f := newFixture(t, testGeometry())

	for _, page := range []uint16{8, 9, 0xFFFF} {
		f.out.clear()
		f.eng.Dispatch(aseba.CmdWritePage, []uint16{page})
		require.Equal(t, []aseba.Status{aseba.StatusInvalidValue}, f.out.acks(), "page %d", page)
		require.False(t, f.eng.Session().ProgrammingMode)
	}
	require.Empty(t, f.dev.Erases)
}

func TestWritePage_FirstPageOffset(t *testing.T) {
	geo := testGeometry()
	geo.FirstPage = 4
	f := newFixture(t, geo)

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{3})
	require.Equal(t, []aseba.Status{aseba.StatusInvalidValue}, f.out.acks())

	f.out.clear()
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{12})
	require.Equal(t, []aseba.Status{aseba.StatusInvalidValue}, f.out.acks())

	f.out.clear()
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{4})
	require.Equal(t, []aseba.Status{aseba.StatusOK}, f.out.acks())
	require.Equal(t, 0, f.eng.Session().CurrentPage)
}

func TestWritePage_InvalidSize(t *testing.T) {
	f := newFixture(t, testGeometry())

	f.eng.Dispatch(aseba.CmdWritePage, nil)
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{0, 1})

	require.Equal(t, []aseba.Status{aseba.StatusInvalidSize, aseba.StatusInvalidSize}, f.out.acks())
	require.False(t, f.eng.Session().ProgrammingMode)
}

func TestWritePage_RejectedDuringProgramming(t *testing.T) {
	f := newFixture(t, testGeometry())
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{1})
	f.eng.Dispatch(aseba.CmdPageData, []uint16{1, 2})
	before := *f.eng.Session()

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{99})

	after := *f.eng.Session()
	require.Equal(t, before.ProgrammingMode, after.ProgrammingMode)
	require.Equal(t, before.CurrentPage, after.CurrentPage)
	require.Equal(t, before.CurrentWord, after.CurrentWord)
}

func TestWritePage_EraseFailure(t *testing.T) {
	f := newFixture(t, testGeometry())
	f.flash.eraseErr = errors.New("erase timeout")

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{0})

	require.Equal(t, []aseba.Status{aseba.StatusProgramFailed}, f.out.acks())
	require.False(t, f.eng.Session().ProgrammingMode)
}

// ============================================================
// PAGE_DATA Tests
// ============================================================

func TestPageData_NotProgramming(t *testing.T) {
	f := newFixture(t, testGeometry())

	f.eng.Dispatch(aseba.CmdPageData, []uint16{0xAAAA, 0x5555})

	require.Equal(t, []aseba.Status{aseba.StatusNotProgramming}, f.out.acks())
	require.Zero(t, f.eng.Session().CurrentWord)
	require.Empty(t, f.flash.writes)
}

func TestPageData_CommitsFullPage(t *testing.T) {
	geo := testGeometry()
	f := newFixture(t, geo)
	words := pagePattern(geo.PageWords(), 0x1234)

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{0})
	f.sendPage(words)

	require.Len(t, f.flash.writes, 1)
	require.Equal(t, 0, f.flash.writes[0].page)
	require.Equal(t, words, f.flash.writes[0].buf)

	// WRITE_PAGE ack and the commit ack only
	require.Equal(t, []aseba.Status{aseba.StatusOK, aseba.StatusOK}, f.out.acks())
	require.Len(t, f.out.pushes, 2)

	s := f.eng.Session()
	require.False(t, s.ProgrammingMode)
	require.Zero(t, s.CurrentWord)

	for i, w := range words {
		require.Equal(t, w, f.flash.ReadWord(0, i))
	}
}

func TestPageData_NoEarlyFlush(t *testing.T) {
	geo := testGeometry()
	f := newFixture(t, geo)
	words := pagePattern(geo.PageWords(), 0)

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{0})
	f.sendPage(words[:len(words)-2])

	require.Empty(t, f.flash.writes)
	require.Equal(t, geo.PageWords()-2, f.eng.Session().CurrentWord)
	require.Len(t, f.out.pushes, 1)
}

func TestPageData_SingleWordIsInvalidSize(t *testing.T) {
	f := newFixture(t, testGeometry())
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{0})
	f.eng.Dispatch(aseba.CmdPageData, []uint16{1, 2})
	f.out.clear()
	before := *f.eng.Session()

	f.eng.Dispatch(aseba.CmdPageData, []uint16{3})
	f.eng.Dispatch(aseba.CmdPageData, []uint16{3, 4, 5})

	require.Equal(t, []aseba.Status{aseba.StatusInvalidSize, aseba.StatusInvalidSize}, f.out.acks())
	after := *f.eng.Session()
	require.Equal(t, before.ProgrammingMode, after.ProgrammingMode)
	require.Equal(t, before.CurrentPage, after.CurrentPage)
	require.Equal(t, 2, after.CurrentWord)
}

func TestPageData_SuccessivePages(t *testing.T) {
	geo := testGeometry()
	f := newFixture(t, geo)

	for page := 0; page < geo.PagesPerSector; page++ {
		f.eng.Dispatch(aseba.CmdWritePage, []uint16{uint16(page)})
		f.sendPage(pagePattern(geo.PageWords(), uint16(page)<<8))
	}

	require.Len(t, f.flash.writes, geo.PagesPerSector)
	for page := 0; page < geo.PagesPerSector; page++ {
		want := pagePattern(geo.PageWords(), uint16(page)<<8)
		for i, w := range want {
			require.Equal(t, w, f.flash.ReadWord(page, i), "page %d word %d", page, i)
		}
	}
	require.Equal(t, 1, f.dev.Erases[2], "one erase for the whole sector")
}

func TestPageData_WriteFailure(t *testing.T) {
	geo := testGeometry()
	f := newFixture(t, geo)
	f.flash.writeErr = errors.New("program error")

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{0})
	f.sendPage(pagePattern(geo.PageWords(), 0))

	require.Equal(t, []aseba.Status{aseba.StatusOK, aseba.StatusProgramFailed}, f.out.acks())
	require.False(t, f.eng.Session().ProgrammingMode)
	require.Zero(t, f.eng.Session().CurrentWord)
}

func TestPageData_NotErasedFails(t *testing.T) {
	geo := testGeometry()
	f := newFixture(t, geo)

	f.eng.Dispatch(aseba.CmdWritePage, []uint16{1})
	f.sendPage(pagePattern(geo.PageWords(), 0x00FF))
	// Rewriting a non-head page skips the erase, so programming must fail
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{1})
	f.sendPage(pagePattern(geo.PageWords(), 0xFF00))

	require.Equal(t, []aseba.Status{
		aseba.StatusOK, aseba.StatusOK,
		aseba.StatusOK, aseba.StatusProgramFailed,
	}, f.out.acks())
}

// ============================================================
// READ_PAGE Tests
// ============================================================

func TestReadPage_StreamsPage(t *testing.T) {
	geo := testGeometry()
	f := newFixture(t, geo)
	words := pagePattern(geo.PageWords(), 0xBEEF)
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{2})
	f.sendPage(words)
	f.out.clear()

	f.eng.Dispatch(aseba.CmdReadPage, []uint16{2})

	require.Len(t, f.out.pushes, geo.PageWords()/2)
	for i, p := range f.out.pushes {
		w0, w1, err := aseba.ParsePageDataPush(p)
		require.NoError(t, err)
		require.Equal(t, words[2*i], w0)
		require.Equal(t, words[2*i+1], w1)
	}
}

func TestReadPage_ErasedPage(t *testing.T) {
	geo := testGeometry()
	f := newFixture(t, geo)

	f.eng.Dispatch(aseba.CmdReadPage, []uint16{7})

	require.Len(t, f.out.pushes, geo.PageWords()/2)
	for _, p := range f.out.pushes {
		require.Equal(t, aseba.NewPageDataPush(0xFFFF, 0xFFFF), p)
	}
}

func TestReadPage_DuringProgramming(t *testing.T) {
	geo := testGeometry()
	f := newFixture(t, geo)
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{0})
	f.eng.Dispatch(aseba.CmdPageData, []uint16{1, 2})
	f.out.clear()
	before := *f.eng.Session()

	f.eng.Dispatch(aseba.CmdReadPage, []uint16{3})

	require.Len(t, f.out.pushes, geo.PageWords()/2)
	after := *f.eng.Session()
	require.Equal(t, before.ProgrammingMode, after.ProgrammingMode)
	require.Equal(t, before.CurrentWord, after.CurrentWord)

	// Programming resumes where it left off
	f.sendPage(pagePattern(geo.PageWords()-2, 0))
	require.Len(t, f.flash.writes, 1)
}

func TestReadPage_Rejections(t *testing.T) {
	f := newFixture(t, testGeometry())

	f.eng.Dispatch(aseba.CmdReadPage, nil)
	f.eng.Dispatch(aseba.CmdReadPage, []uint16{1, 2})
	f.eng.Dispatch(aseba.CmdReadPage, []uint16{8})

	require.Equal(t, []aseba.Status{
		aseba.StatusInvalidSize,
		aseba.StatusInvalidSize,
		aseba.StatusInvalidValue,
	}, f.out.acks())
	require.Len(t, f.out.pushes, 3)
}

// ============================================================
// RESET and Unknown Command Tests
// ============================================================

func TestReset_AcksThenReboots(t *testing.T) {
	f := newFixture(t, testGeometry())

	f.eng.Dispatch(aseba.CmdReset, nil)

	require.Equal(t, []aseba.Status{aseba.StatusOK}, f.out.acks())
	require.Equal(t, 1, f.reboot.n)
}

func TestUnknownOpcode_Ignored(t *testing.T) {
	f := newFixture(t, testGeometry())
	f.eng.Dispatch(aseba.CmdWritePage, []uint16{0})
	f.out.clear()
	before := *f.eng.Session()

	for _, op := range []uint16{0, 0x1234, aseba.PushAck, aseba.PushDescription, 0xFFFF} {
		f.eng.Dispatch(op, []uint16{1, 2})
	}

	require.Empty(t, f.out.pushes)
	require.Equal(t, before.CurrentWord, f.eng.Session().CurrentWord)
	require.Zero(t, f.reboot.n)
}
