package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/BioHazard786/warpmesh/internal/crypto"
	"github.com/BioHazard786/warpmesh/internal/filetransfer"
	"github.com/BioHazard786/warpmesh/internal/protocol"
	"github.com/BioHazard786/warpmesh/internal/transport"
)

// SendMessage encrypts msg for peerID, or for every open session when
// peerID is Broadcast. Peers without a key get the message queued and
// receive it once their key is established.
func (r *Registry) SendMessage(ctx context.Context, peerID string, msg protocol.Message) error {
	if msg.Sender == "" {
		msg.Sender = r.localID
	}

	var errs []error
	err := r.do(ctx, func() {
		for _, s := range r.targets(peerID) {
			if s.state != StateReady {
				s.messages = append(s.messages, msg)
				r.logger.Debug("Queued message", "peer", s.id, "state", s.state, "queued", len(s.messages))
				continue
			}
			if err := r.sendMessage(s, msg); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// SendFile chunks, encrypts and sends file to peerID or, for Broadcast,
// to every open session. Chunks are sent from the calling goroutine.
func (r *Registry) SendFile(ctx context.Context, file filetransfer.File, peerID string) error {
	var jobs []fileJob
	err := r.do(ctx, func() {
		for _, s := range r.targets(peerID) {
			if s.state != StateReady {
				s.files = append(s.files, file)
				r.logger.Debug("Queued file", "peer", s.id, "file", file.Name, "state", s.state)
				continue
			}
			jobs = append(jobs, fileJob{peer: s.id, conn: s.conn, key: s.key})
		}
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, job := range jobs {
		if err := r.transferFile(ctx, job, file); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) sendKey(s *peerSession) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return NewError("key exchange", s.id, err)
	}
	data, err := protocol.Encode(protocol.NewKeyExchange(key.Export()))
	if err != nil {
		return NewError("key exchange", s.id, err)
	}
	if err := s.conn.Send(data); err != nil {
		return NewError("key exchange", s.id, sendErr(err))
	}
	s.key = key
	return nil
}

func (r *Registry) sendMessage(s *peerSession, msg protocol.Message) error {
	if s.key == nil {
		return NewError("send message", s.id, ErrKeyNotReady)
	}
	plaintext, err := protocol.EncodeMessage(msg)
	if err != nil {
		return NewError("send message", s.id, err)
	}
	sealed, err := s.key.Encrypt(plaintext)
	if err != nil {
		return NewError("send message", s.id, err)
	}
	data, err := protocol.Encode(protocol.NewEncryptedMessage(sealed.IV, sealed.Ciphertext))
	if err != nil {
		return NewError("send message", s.id, err)
	}
	if err := s.conn.Send(data); err != nil {
		return NewError("send message", s.id, sendErr(err))
	}
	return nil
}

type fileJob struct {
	peer string
	conn transport.Conn
	key  *crypto.Key
}

// transferFile sends every chunk of file in index order. The first failed
// send aborts the transfer.
func (r *Registry) transferFile(ctx context.Context, job fileJob, file filetransfer.File) error {
	plan := filetransfer.NewPlan(job.peer, len(file.Data), r.chunkSize)
	log := r.logger.With("peer", job.peer, "file", file.Name, "file_id", plan.FileID)
	log.Debug("Sending file", "size", plan.Size, "chunks", plan.TotalChunks)

	for i := 0; i < plan.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return NewFileError("send file", job.peer, file.Name, err, "")
		}

		sealed, err := job.key.Encrypt(plan.Chunk(file.Data, i))
		if err != nil {
			return NewFileError("send file", job.peer, file.Name, err, "")
		}
		data, err := protocol.Encode(protocol.Envelope{
			Type:        protocol.TypeFileChunk,
			FileID:      plan.FileID,
			Index:       i,
			TotalChunks: plan.TotalChunks,
			FileName:    file.Name,
			FileType:    file.Type,
			IV:          base64.StdEncoding.EncodeToString(sealed.IV),
			Ciphertext:  base64.StdEncoding.EncodeToString(sealed.Ciphertext),
		})
		if err != nil {
			return NewFileError("send file", job.peer, file.Name, err, "")
		}
		if err := job.conn.Send(data); err != nil {
			return NewFileError("send file", job.peer, file.Name, ErrChunkSendFailure,
				fmt.Sprintf("chunk %d/%d: %v", i+1, plan.TotalChunks, err))
		}
	}

	log.Info("File sent", "chunks", plan.TotalChunks)
	return nil
}

// receive handles one frame from s. Malformed frames and frames that
// cannot be decrypted are logged and dropped.
func (r *Registry) receive(s *peerSession, data []byte) {
	log := r.logger.With("peer", s.id)

	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn("Dropping malformed frame", "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeKeyExchange:
		key, err := crypto.ImportKey(env.Key)
		if err != nil {
			log.Warn("Dropping invalid key", "error", err)
			return
		}
		if s.initiator {
			log.Info("Peer sent a key although this side initiated, using it")
		}
		s.key = key
		if s.state != StateReady {
			r.ready(s)
		}

	case protocol.TypeEncryptedMessage:
		if s.key == nil {
			log.Warn("Dropping message", "error", ErrKeyNotReady)
			return
		}
		plaintext, err := s.key.Decrypt(env.Payload.IV, env.Payload.Ciphertext)
		if err != nil {
			log.Warn("Dropping message", "error", err)
			return
		}
		msg, err := protocol.DecodeMessage(plaintext)
		if err != nil {
			log.Warn("Dropping message", "error", err)
			return
		}
		r.handler.push(Event{Kind: EventMessage, From: s.id, Message: msg})

	case protocol.TypeFileChunk:
		r.receiveChunk(s, env)

	default:
		log.Warn("Dropping frame", "error", ErrUnexpectedMessage, "type", env.Type)
	}
}

func (r *Registry) receiveChunk(s *peerSession, env protocol.Envelope) {
	log := r.logger.With("peer", s.id, "file_id", env.FileID, "index", env.Index)

	if s.key == nil {
		log.Warn("Dropping chunk", "error", ErrKeyNotReady)
		return
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		log.Warn("Dropping chunk with bad iv", "error", err)
		return
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		log.Warn("Dropping chunk with bad ciphertext", "error", err)
		return
	}
	plaintext, err := s.key.Decrypt(iv, ciphertext)
	if err != nil {
		log.Warn("Dropping chunk", "error", err)
		return
	}

	file, done, err := r.assembler.Add(s.id, filetransfer.Chunk{
		FileID:      env.FileID,
		Index:       env.Index,
		TotalChunks: env.TotalChunks,
		FileName:    env.FileName,
		FileType:    env.FileType,
		Data:        plaintext,
	})
	if err != nil {
		log.Warn("Dropping chunk", "error", err)
		return
	}
	if done {
		log.Info("File received", "file", file.Name, "size", len(file.Data))
		r.handler.push(Event{Kind: EventFile, From: s.id, File: file})
	}
}

func sendErr(err error) error {
	if errors.Is(err, transport.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return err
}
