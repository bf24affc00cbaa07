// SPDX-License-Identifier: MIT

package mpv

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ipcCommand is the JSON structure sent to mpv's IPC socket.
type ipcCommand struct {
	Command []interface{} `json:"command"`
}

// ipcResponse is the JSON structure received from mpv's IPC socket.
type ipcResponse struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
	Event string      `json:"event"`
}

const (
	ipcRetries      = 3
	ipcRetryDelay   = 100 * time.Millisecond
	ipcReadDeadline = 1 * time.Second
	ipcReadBufSize  = 4096
)

// errPropertyUnavailable is mpv's answer when a property has no value yet
// (stream not negotiated, nothing loaded). Callers treat it as "not known",
// never as a failure.
const errPropertyUnavailable = "property unavailable"

// sendCommand issues one JSON-IPC command over a fresh connection, retrying
// transient connect errors. The per-command connection keeps request and
// response paired without a correlation protocol; the event stream uses its
// own persistent connection.
func (h *Handle) sendCommand(command []interface{}) (interface{}, error) {
	h.ipcMu.Lock()
	socket := h.socketPath
	h.ipcMu.Unlock()
	if socket == "" {
		return nil, fmt.Errorf("mpv: no IPC socket")
	}

	var lastErr error
	for attempt := 0; attempt < ipcRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(ipcRetryDelay)
		}
		result, err := doSendCommand(socket, command)
		if err == nil {
			return result, nil
		}
		lastErr = err
		// mpv answered; retrying will not change its mind.
		if errors.As(err, new(*protocolError)) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("mpv: ipc command failed after %d attempts: %w", ipcRetries, lastErr)
}

// doSendCommand performs a single IPC request/response exchange. mpv speaks
// newline-delimited JSON; replies to commands carry an "error" field while
// asynchronous events carry "event" and are skipped here.
func doSendCommand(socketPath string, command []interface{}) (interface{}, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close() }()

	payload, err := json.Marshal(ipcCommand{Command: command})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(ipcReadDeadline)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	dec := json.NewDecoder(conn)
	for {
		var resp ipcResponse
		if err := dec.Decode(&resp); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		// A fresh connection may still receive broadcast events before the
		// command reply lands.
		if resp.Event != "" {
			continue
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, &protocolError{reason: resp.Error}
		}
		return resp.Data, nil
	}
}

// protocolError is an error reported by mpv itself, as opposed to a
// transport failure on the way there.
type protocolError struct {
	reason string
}

func (e *protocolError) Error() string { return "mpv: " + e.reason }

// getFloatProperty retrieves a float64 mpv property. The second return is
// false when the property is currently unavailable.
func (h *Handle) getFloatProperty(name string) (float64, bool, error) {
	data, err := h.sendCommand([]interface{}{"get_property", name})
	if err != nil {
		if isPropertyUnavailable(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	val, ok := data.(float64)
	if !ok {
		return 0, false, nil
	}
	return val, true, nil
}

// getStringProperty retrieves a string mpv property, "" when unavailable.
func (h *Handle) getStringProperty(name string) string {
	data, err := h.sendCommand([]interface{}{"get_property", name})
	if err != nil {
		return ""
	}
	s, _ := data.(string)
	return s
}

func isPropertyUnavailable(err error) bool {
	return err != nil && strings.Contains(err.Error(), errPropertyUnavailable)
}
