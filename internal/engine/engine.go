// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine executes bootloader commands addressed to this node.
//
// The engine is a two state machine, idle and programming. WRITE_PAGE
// erases the target page and starts assembling it; PAGE_DATA appends two
// words at a time and commits the page to flash once it is full. READ_PAGE
// streams any page back regardless of state. A rejected command is answered
// with a status code and leaves the session untouched.
package engine

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/Thermoquad/asebaboot/internal/flash"
	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// Flash is the page store the engine programs
type Flash interface {
	Geometry() flash.Geometry
	ErasePage(page int) error
	WritePage(page int, buf []uint16) error
	ReadWord(page, word int) uint16
}

// Replier emits pushes on the bus, tagged with this node's id
type Replier interface {
	Push(words []uint16) error
}

// Rebooter hands control to the application. RebootToApplication does not
// return.
type Rebooter interface {
	RebootToApplication()
}

// Engine dispatches commands against a session
type Engine struct {
	flash   Flash
	reply   Replier
	reboot  Rebooter
	session *Session
	geo     flash.Geometry
}

// New creates an engine. The session buffer must hold exactly one page.
func New(f Flash, reply Replier, reboot Rebooter, session *Session) (*Engine, error) {
	geo := f.Geometry()
	if len(session.Buffer) != geo.PageWords() {
		return nil, fmt.Errorf("session buffer holds %d words, page has %d", len(session.Buffer), geo.PageWords())
	}
	return &Engine{flash: f, reply: reply, reboot: reboot, session: session, geo: geo}, nil
}

// Session returns the session the engine mutates
func (e *Engine) Session() *Session {
	return e.session
}

// Description returns the content of the description push
func (e *Engine) Description() aseba.Description {
	return aseba.Description{
		PageSize:  uint16(e.geo.PageSize),
		FirstPage: uint16(e.geo.FirstPage),
		PageCount: uint16(e.geo.AvailablePages),
	}
}

// SendDescription pushes the page geometry to the host
func (e *Engine) SendDescription() error {
	return e.reply.Push(aseba.NewDescription(e.Description()))
}

// Dispatch executes one command. payload excludes the opcode and node words.
func (e *Engine) Dispatch(opcode uint16, payload []uint16) {
	switch opcode {
	case aseba.CmdReset:
		e.ack(aseba.StatusOK)
		e.reboot.RebootToApplication()
	case aseba.CmdReadPage:
		e.readPage(payload)
	case aseba.CmdWritePage:
		e.writePage(payload)
	case aseba.CmdPageData:
		e.pageData(payload)
	default:
		glog.V(2).Infof("ignoring command %s", aseba.FormatOpcode(opcode))
	}
}

func (e *Engine) ack(s aseba.Status) {
	if err := e.reply.Push(aseba.NewAck(s)); err != nil {
		glog.Errorf("ERROR sending %s ack: %v", s, err)
	}
}

// page translates a wire page number into a logical page index
func (e *Engine) page(arg uint16) (int, bool) {
	page := int(arg) - e.geo.FirstPage
	return page, page >= 0 && page < e.geo.AvailablePages
}

func (e *Engine) readPage(payload []uint16) {
	if len(payload) != aseba.ReadPageArgs {
		e.ack(aseba.StatusInvalidSize)
		return
	}
	page, ok := e.page(payload[0])
	if !ok {
		e.ack(aseba.StatusInvalidValue)
		return
	}
	glog.V(1).Infof("command read page %d", page)
	for word := 0; word < e.geo.PageWords(); word += 2 {
		msg := aseba.NewPageDataPush(e.flash.ReadWord(page, word), e.flash.ReadWord(page, word+1))
		if err := e.reply.Push(msg); err != nil {
			glog.Errorf("ERROR streaming page %d: %v", page, err)
			return
		}
	}
}

func (e *Engine) writePage(payload []uint16) {
	if len(payload) != aseba.WritePageArgs {
		e.ack(aseba.StatusInvalidSize)
		return
	}
	page, ok := e.page(payload[0])
	if !ok {
		e.ack(aseba.StatusInvalidValue)
		return
	}
	glog.Infof("command write page %d", page)
	if err := e.flash.ErasePage(page); err != nil {
		glog.Errorf("ERROR erasing page %d: %v", page, err)
		e.ack(aseba.StatusProgramFailed)
		return
	}
	e.session.begin(page)
	e.ack(aseba.StatusOK)
}

func (e *Engine) pageData(payload []uint16) {
	if len(payload) != aseba.PageDataArgs {
		e.ack(aseba.StatusInvalidSize)
		return
	}
	s := e.session
	if !s.ProgrammingMode {
		e.ack(aseba.StatusNotProgramming)
		return
	}
	s.Buffer[s.CurrentWord] = payload[0]
	s.Buffer[s.CurrentWord+1] = payload[1]
	s.CurrentWord += 2
	if !s.full() {
		return
	}

	glog.Infof("full page received")
	err := e.flash.WritePage(s.CurrentPage, s.Buffer)
	page := s.CurrentPage
	s.Reset()
	if err != nil {
		glog.Errorf("ERROR writing page %d: %v", page, err)
		e.ack(aseba.StatusProgramFailed)
		return
	}
	e.ack(aseba.StatusOK)
}
