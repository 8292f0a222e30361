package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/timecat/player"
)

// RegisterMCP registers the recording and replay tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	registerTool(srv, &mcp.Tool{
		Name:        "timecat_record_start",
		Description: "Start recording the document. Clears previously stored records and returns the session id.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ *struct{}) (any, error) {
		id, err := s.StartRecording(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"session": id}, nil
	})

	registerTool(srv, &mcp.Tool{
		Name:        "timecat_record_finish",
		Description: "Stop recording and return the exported replay page as HTML.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ *struct{}) (any, error) {
		page, err := s.FinishRecording(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"finished": page != "", "page": page}, nil
	})

	registerTool(srv, &mcp.Tool{
		Name:        "timecat_export",
		Description: "Render every stored record as a self-contained replay page.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ *struct{}) (any, error) {
		page, err := s.Export(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"page": page}, nil
	})

	registerTool(srv, &mcp.Tool{
		Name:        "timecat_replay_load",
		Description: "Load a replay from inline data (encoded data list or exported page), falling back to the record store. With follow, replay the store live.",
		InputSchema: inputSchema(map[string]any{
			"inline": map[string]any{"type": "string", "description": "Encoded replay data or an exported replay page"},
			"follow": map[string]any{"type": "boolean", "description": "Replay the record store live, appending records as they are stored"},
		}, nil),
	}, func(ctx context.Context, r *loadReq) (any, error) {
		if r.Follow {
			return s.FollowReplay(ctx)
		}
		opts := player.LoadOptions{InlineData: r.Inline, Compressor: s.cfg.Export.Compressor}
		if r.Inline != "" {
			opts.Store = s.cfg.Store
		}
		return s.LoadReplay(ctx, opts)
	})

	registerTool(srv, &mcp.Tool{
		Name:        "timecat_replay_info",
		Description: "Return the loaded replay's progress: frame, current/start/end time, speed and state.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(context.Context, *struct{}) (any, error) {
		return s.ReplayInfo()
	})

	registerTool(srv, &mcp.Tool{
		Name:        "timecat_replay_seek",
		Description: "Seek the loaded replay to a global time in milliseconds.",
		InputSchema: inputSchema(map[string]any{
			"time": map[string]any{"type": "integer", "description": "Target time in ms"},
		}, []string{"time"}),
	}, func(_ context.Context, r *seekReq) (any, error) {
		if r.Time == nil {
			return nil, errors.New("time is required")
		}
		return s.Seek(*r.Time)
	})

	registerTool(srv, &mcp.Tool{
		Name:        "timecat_replay_speed",
		Description: "Set the replay speed. 0 pauses; above 0 plays.",
		InputSchema: inputSchema(map[string]any{
			"speed": map[string]any{"type": "number", "description": "Playback speed multiplier"},
		}, []string{"speed"}),
	}, func(_ context.Context, r *speedReq) (any, error) {
		if r.Speed == nil {
			return nil, errors.New("speed is required")
		}
		return s.SetSpeed(*r.Speed)
	})

	registerTool(srv, &mcp.Tool{
		Name:        "timecat_replay_frame",
		Description: "Return the sanitized HTML of the replayed document at the current time, and its markdown rendering, optionally seeking first.",
		InputSchema: inputSchema(map[string]any{
			"time": map[string]any{"type": "integer", "description": "Optional time to seek to first"},
		}, nil),
	}, func(_ context.Context, r *seekReq) (any, error) {
		if r.Time != nil {
			if _, err := s.Seek(*r.Time); err != nil {
				return nil, err
			}
		}
		page, err := s.Frame()
		if err != nil {
			return nil, err
		}
		md, err := s.FrameMarkdown()
		if err != nil {
			return nil, err
		}
		info, err := s.ReplayInfo()
		if err != nil {
			return nil, err
		}
		return map[string]any{"time": info.CurTime, "html": page, "markdown": md}, nil
	})
}

type loadReq struct {
	Inline string `json:"inline"`
	Follow bool   `json:"follow"`
}

type seekReq struct {
	Time *int64 `json:"time"`
}

type speedReq struct {
	Speed *float64 `json:"speed"`
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// registerTool adds a tool whose JSON arguments decode into Req and whose
// result is returned as JSON text. Failures become tool errors.
func registerTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if args := req.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := endpoint(ctx, &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
