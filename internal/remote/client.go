package remote

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cartridge/rollout/internal/env"
	"github.com/cartridge/rollout/internal/space"
)

// callTimeout bounds calls made from methods without a context.
const callTimeout = 10 * time.Second

// Client talks to an Environment server.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
	logger zerolog.Logger
}

// Dial connects to the server at addr.
func Dial(addr string, logger zerolog.Logger, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine at %s: %w", addr, err)
	}
	c := NewClient(conn, logger)
	c.closer = conn
	return c, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn grpc.ClientConnInterface, logger zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		logger: logger.With().Str("component", "remote").Logger(),
	}
}

// Close closes the connection if the client owns it.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Open creates a session for the named environment. The result is an
// env.Env or an env.MultiAgentEnv depending on what the server built.
func (c *Client) Open(ctx context.Context, name string, cfg map[string]any) (any, error) {
	var reply openReply
	if err := c.invoke(ctx, methodOpen, openRequest{Name: name, Config: cfg}, &reply); err != nil {
		return nil, err
	}

	base := session{client: c, id: reply.Session, renders: reply.Renders, stats: reply.Statistics}
	if reply.MultiAgent {
		spaces := make(map[string]space.Space, len(reply.ActionSpaces))
		for id, spec := range reply.ActionSpaces {
			sp, err := spec.Build()
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", id, err)
			}
			spaces[id] = sp
		}
		return &MultiEnv{session: base, spaces: spaces}, nil
	}

	if reply.ActionSpace == nil {
		return nil, fmt.Errorf("server returned no action space for %s", name)
	}
	sp, err := reply.ActionSpace.Build()
	if err != nil {
		return nil, err
	}
	return &SingleEnv{session: base, space: sp}, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if reply == nil {
		return nil
	}
	return decode(out, reply)
}

// session holds what both remote env flavours share.
type session struct {
	client  *Client
	id      string
	renders bool
	stats   bool
}

func (s *session) request() sessionRequest { return sessionRequest{Session: s.id} }

// Render writes the server's rendering to w. Environments that cannot
// render write nothing.
func (s *session) Render(w io.Writer) error {
	if !s.renders {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var reply renderReply
	if err := s.client.invoke(ctx, methodRender, s.request(), &reply); err != nil {
		return err
	}
	_, err := io.WriteString(w, reply.Frame)
	return err
}

// CollectStatistics fetches the server's end of simulation summary. Errors
// are logged and reported as no statistics.
func (s *session) CollectStatistics() map[string]float64 {
	if !s.stats {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var reply statisticsReply
	if err := s.client.invoke(ctx, methodStatistics, s.request(), &reply); err != nil {
		s.client.logger.Error().Err(err).Str("session", s.id).Msg("failed to collect statistics")
		return nil
	}
	return reply.Statistics
}

// Close ends the session on the server.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return s.client.invoke(ctx, methodClose, s.request(), nil)
}

// SingleEnv is a remote single-agent environment.
type SingleEnv struct {
	session
	space space.Space
}

func (e *SingleEnv) Reset(ctx context.Context) ([]float64, error) {
	var reply resetReply
	if err := e.client.invoke(ctx, methodReset, e.request(), &reply); err != nil {
		return nil, err
	}
	return reply.Obs, nil
}

func (e *SingleEnv) Step(ctx context.Context, action space.Action) (env.Step, error) {
	var reply stepReply
	if err := e.client.invoke(ctx, methodStep, stepRequest{Session: e.id, Action: action}, &reply); err != nil {
		return env.Step{}, err
	}
	return env.Step{Obs: reply.Obs, Reward: reply.Reward, Done: reply.Done, Info: reply.Info}, nil
}

func (e *SingleEnv) ActionSpace() space.Space { return e.space }

// MultiEnv is a remote multi-agent environment.
type MultiEnv struct {
	session
	spaces map[string]space.Space
}

func (e *MultiEnv) Reset(ctx context.Context) (map[string][]float64, error) {
	var reply resetReply
	if err := e.client.invoke(ctx, methodReset, e.request(), &reply); err != nil {
		return nil, err
	}
	return reply.MultiObs, nil
}

func (e *MultiEnv) Step(ctx context.Context, actions map[string]space.Action) (env.MultiStep, error) {
	var reply stepReply
	if err := e.client.invoke(ctx, methodStep, stepRequest{Session: e.id, Actions: actions}, &reply); err != nil {
		return env.MultiStep{}, err
	}
	return env.MultiStep{
		Obs:     reply.MultiObs,
		Rewards: reply.Rewards,
		Dones:   reply.Dones,
		Infos:   reply.Infos,
	}, nil
}

func (e *MultiEnv) ActionSpaces() map[string]space.Space { return e.spaces }
