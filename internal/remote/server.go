package remote

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cartridge/rollout/internal/env"
	"github.com/cartridge/rollout/internal/space"
)

// Server implements EnvironmentServer on top of the env registry. Every
// Open creates an independent session.
type Server struct {
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]any
}

// NewServer creates a new Server
func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		logger:   logger.With().Str("component", "envserver").Logger(),
		sessions: make(map[string]any),
	}
}

// Open constructs the named environment and returns its session id and
// action spaces.
func (s *Server) Open(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req openRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}

	e, err := env.Make(req.Name, req.Config)
	if err != nil {
		if errors.Is(err, env.ErrUnknownEnv) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	reply := openReply{Session: uuid.New().String()}
	_, reply.Renders = e.(env.Renderer)
	_, reply.Statistics = e.(env.StatisticsCollector)

	switch v := e.(type) {
	case env.MultiAgentEnv:
		reply.MultiAgent = true
		reply.ActionSpaces = make(map[string]space.Spec)
		for id, sp := range v.ActionSpaces() {
			spec, err := space.SpecOf(sp)
			if err != nil {
				return nil, status.Errorf(codes.Internal, "agent %s: %v", id, err)
			}
			reply.ActionSpaces[id] = spec
		}
	case env.Env:
		spec, err := space.SpecOf(v.ActionSpace())
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		reply.ActionSpace = &spec
	}

	s.mu.Lock()
	s.sessions[reply.Session] = e
	s.mu.Unlock()

	s.logger.Info().
		Str("session", reply.Session).
		Str("env", req.Name).
		Bool("multiagent", reply.MultiAgent).
		Msg("session opened")

	return encode(reply)
}

// Reset resets the session's environment.
func (s *Server) Reset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e, _, err := s.session(in)
	if err != nil {
		return nil, err
	}

	var reply resetReply
	switch v := e.(type) {
	case env.MultiAgentEnv:
		reply.MultiObs, err = v.Reset(ctx)
	case env.Env:
		reply.Obs, err = v.Reset(ctx)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return encode(reply)
}

// Step advances the session's environment by one step.
func (s *Server) Step(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req stepRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	e, err := s.lookup(req.Session)
	if err != nil {
		return nil, err
	}

	var reply stepReply
	switch v := e.(type) {
	case env.MultiAgentEnv:
		out, err := v.Step(ctx, req.Actions)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		reply.MultiObs = out.Obs
		reply.Rewards = out.Rewards
		reply.Dones = out.Dones
		reply.Infos = out.Infos
	case env.Env:
		out, err := v.Step(ctx, req.Action)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		reply.Obs = out.Obs
		reply.Reward = out.Reward
		reply.Done = out.Done
		reply.Info = out.Info
	}
	return encode(reply)
}

// Render returns the environment's text rendering.
func (s *Server) Render(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e, _, err := s.session(in)
	if err != nil {
		return nil, err
	}
	r, ok := e.(env.Renderer)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "environment does not render")
	}
	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return encode(renderReply{Frame: buf.String()})
}

// Statistics returns the environment's end of simulation summary.
func (s *Server) Statistics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e, _, err := s.session(in)
	if err != nil {
		return nil, err
	}
	c, ok := e.(env.StatisticsCollector)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "environment does not collect statistics")
	}
	return encode(statisticsReply{Statistics: c.CollectStatistics()})
}

// CloseSession closes and forgets the session's environment.
func (s *Server) CloseSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e, id, err := s.session(in)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	if err := closeEnv(e); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.logger.Info().Str("session", id).Msg("session closed")
	return &structpb.Struct{}, nil
}

// Sessions reports the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close closes every open session.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]any)
	s.mu.Unlock()

	var errs []error
	for id, e := range sessions {
		if err := closeEnv(e); err != nil {
			s.logger.Error().Err(err).Str("session", id).Msg("failed to close session")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) session(in *structpb.Struct) (any, string, error) {
	var req sessionRequest
	if err := decode(in, &req); err != nil {
		return nil, "", status.Error(codes.InvalidArgument, err.Error())
	}
	e, err := s.lookup(req.Session)
	return e, req.Session, err
}

func (s *Server) lookup(id string) (any, error) {
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown session %s", id)
	}
	return e, nil
}

func closeEnv(e any) error {
	switch v := e.(type) {
	case env.MultiAgentEnv:
		return v.Close()
	case env.Env:
		return v.Close()
	}
	return nil
}
