package protocol

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"framedftp/datachannel"
	"framedftp/ftperr"
	"framedftp/transfer"
)

// HandleMODE - Stream (S) or compressed (Z) frames for GET
func (h *CommandHandler) HandleMODE(compressed bool) {
	h.withAuth(func() {
		h.session.compress = compressed
		if compressed {
			h.session.SendResponse(CodeOK, "Mode set to Compressed")
			return
		}
		h.session.SendResponse(CodeOK, "Mode set to Stream")
	})
}

// HandlePORT - Remember the endpoint of the next active transfer
func (h *CommandHandler) HandlePORT(endpoint string) {
	h.withAuth(func() {
		if err := h.session.negotiator.CheckEndpoint(endpoint); err != nil {
			h.session.SendError(err)
			return
		}
		h.session.endpoint = endpoint
		h.session.log.WithField("endpoint", endpoint).Debug("[PORT] active endpoint set")
		h.session.SendResponse(CodeOK, "PORT command successful")
	})
}

// HandleTransfer runs one ACTIVE_GET, PASSIVE_GET, ACTIVE_PUT or
// PASSIVE_PUT. The path is validated before any data channel is opened, the
// channel is closed before the final reply, and the session is back in Idle
// afterwards whatever happened.
func (h *CommandHandler) HandleTransfer(ctx context.Context, req TransferRequest) {
	h.withAuth(func() {
		s := h.session
		log := s.log.WithFields(logrus.Fields{
			"function": "HandleTransfer",
			"verb":     req.Verb(),
			"file":     req.Filename,
		})

		endpoint := req.Endpoint
		if !req.Passive && endpoint == "" {
			endpoint = s.endpoint
		}
		s.endpoint = ""

		var (
			src    *transfer.Source
			target *transfer.Target
			err    error
		)
		if req.Direction == Get {
			src, err = s.executor.OpenSource(s.root, s.cwd, req.Filename)
		} else {
			target, err = s.executor.PrepareTarget(s.root, s.cwd, req.Filename)
		}
		if err != nil {
			log.WithField("error", err.Error()).Debug("[XFER] rejected before negotiation")
			s.SendError(err)
			return
		}
		if src != nil {
			defer src.Close()
		}

		if !req.Passive && endpoint == "" {
			s.sendErrorCode(CodeBadSequence, ftperr.New(ftperr.KindNegotiation, "active", "no endpoint, send PORT first"))
			return
		}

		s.setState(StateTransferring)
		defer func() {
			if s.State() == StateTransferring {
				s.setState(StateIdle)
			}
		}()

		ch, err := s.negotiator.Begin()
		if err != nil {
			s.SendError(err)
			return
		}
		defer ch.Close()

		conn, err := h.openDataChannel(ctx, ch, req.Passive, endpoint)
		if err != nil {
			log.WithField("error", err.Error()).Warn("[XFER] data channel negotiation failed")
			s.SendError(err)
			return
		}

		var res transfer.Result
		if req.Direction == Get {
			res, err = s.executor.Send(conn, src, s.compress)
			if err == nil {
				datachannel.CloseWrite(conn)
			}
		} else {
			res, err = s.executor.Receive(conn, target)
		}
		if closeErr := ch.Close(); closeErr != nil {
			log.WithField("error", closeErr.Error()).Debug("[XFER] data channel close")
		}

		if err != nil {
			log = log.WithFields(logrus.Fields{
				"error":       err.Error(),
				"stream_lost": ftperr.IsFatalToStream(err),
			})
			if ftperr.IsFatalToStream(err) {
				log.Warn("[XFER] data stream lost, transfer aborted")
			} else {
				log.Info("[XFER] transfer failed")
			}
			s.SendError(err)
			return
		}

		if req.Direction == Get {
			s.SendResponse(CodeTransferDone, fmt.Sprintf("Transfer complete (%d bytes)", res.Bytes))
		} else {
			s.SendResponse(CodeTransferDone, fmt.Sprintf("Transfer complete (%d bytes stored)", res.Bytes))
		}
	})
}

// openDataChannel negotiates the data connection and sends the preliminary
// reply: 227 with the advertised endpoint before accepting in passive mode,
// 150 once connected in active mode.
func (h *CommandHandler) openDataChannel(ctx context.Context, ch *datachannel.Channel, passive bool, endpoint string) (net.Conn, error) {
	s := h.session
	if passive {
		addr, err := ch.Listen()
		if err != nil {
			return nil, err
		}
		if s.cfg.Data.PassiveHost != "" {
			if ip := net.ParseIP(s.cfg.Data.PassiveHost); ip != nil {
				addr = &net.TCPAddr{IP: ip, Port: addr.Port}
			}
		}
		s.SendResponse(CodePassive, fmt.Sprintf("Entering Passive Mode (%s)", FormatHostPort(addr)))
		if s.writeErr != nil {
			return nil, s.writeErr
		}
		return ch.Accept(ctx)
	}

	conn, err := ch.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	s.SendResponse(CodeDataOpen, "Data connection established")
	return conn, nil
}
