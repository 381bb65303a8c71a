package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"sceneflow/internal/daemon"
	"sceneflow/internal/jobs"
	"sceneflow/internal/logging"
	"sceneflow/internal/workflow"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Sceneflow", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func convertJob(job *jobs.Job) JobItem {
	return JobItem{
		ID:           job.ID,
		Type:         string(job.Type),
		State:        string(job.State),
		Attempt:      job.Attempt,
		MaxRetries:   job.MaxRetries,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	resp.Status = status
	return nil
}

func (s *service) ProjectStart(req ProjectStartRequest, resp *ProjectStartResponse) error {
	s.logger.Debug("project start requested", logging.String(logging.FieldProjectID, req.ProjectID))
	err := s.daemon.StartProject(s.ctx, req.ProjectID, workflow.StartPayload{
		Title:     req.Title,
		AudioPath: req.AudioPath,
	})
	if err != nil {
		return err
	}
	resp.Accepted = true
	resp.Message = "pipeline running"
	s.logger.Info("project started via IPC",
		logging.String(logging.FieldProjectID, req.ProjectID),
		logging.String(logging.FieldEventType, "project_start"))
	return nil
}

func (s *service) ProjectResume(req ProjectResumeRequest, resp *ProjectResumeResponse) error {
	s.logger.Debug("project resume requested", logging.String(logging.FieldProjectID, req.ProjectID))
	if err := s.daemon.ResumeProject(s.ctx, req.ProjectID); err != nil {
		return err
	}
	resp.Accepted = true
	resp.Message = "pipeline resuming"
	return nil
}

func (s *service) ProjectList(_ ProjectListRequest, resp *ProjectListResponse) error {
	projects, err := s.daemon.ListProjects(s.ctx)
	if err != nil {
		return err
	}
	resp.Projects = projects
	return nil
}

func (s *service) ProjectDescribe(req ProjectDescribeRequest, resp *ProjectDescribeResponse) error {
	if req.ProjectID == "" {
		return errors.New("project id is required")
	}
	detail, err := s.daemon.DescribeProject(s.ctx, req.ProjectID)
	if err != nil {
		return err
	}
	resp.Detail = *detail
	return nil
}

func (s *service) Regenerate(req RegenerateRequest, resp *RegenerateResponse) error {
	s.logger.Debug("scene regeneration requested",
		logging.String(logging.FieldProjectID, req.ProjectID),
		logging.String(logging.FieldSceneID, req.SceneID))
	err := s.daemon.RegenerateScene(s.ctx, req.ProjectID, workflow.RegenerateRequest{
		SceneID:            req.SceneID,
		ForceRegenerate:    req.ForceRegenerate,
		PromptModification: req.PromptModification,
	})
	if err != nil {
		return err
	}
	resp.Accepted = true
	return nil
}

func (s *service) Resolve(req ResolveRequest, resp *ResolveResponse) error {
	s.logger.Debug("intervention resolution requested",
		logging.String(logging.FieldProjectID, req.ProjectID),
		logging.String("action", req.Action))
	err := s.daemon.ResolveIntervention(s.ctx, req.ProjectID, daemon.Resolution{
		Action:        workflow.Action(req.Action),
		RevisedParams: req.RevisedParams,
	})
	if err != nil {
		return err
	}
	resp.Accepted = true
	s.logger.Info("intervention resolved via IPC",
		logging.String(logging.FieldProjectID, req.ProjectID),
		logging.String("action", req.Action),
		logging.String(logging.FieldEventType, "intervention_resolve"))
	return nil
}

func (s *service) Intervention(req InterventionRequest, resp *InterventionResponse) error {
	pending, err := s.daemon.PendingIntervention(s.ctx, req.ProjectID)
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}
	resp.Pending = true
	resp.NodeName = pending.NodeName
	resp.Error = pending.Error
	resp.Params = pending.CurrentParams
	return nil
}

func (s *service) SetAsset(req SetAssetRequest, resp *SetAssetResponse) error {
	err := s.daemon.UpdateSceneAsset(s.ctx, req.ProjectID, workflow.UpdateAssetRequest{
		SceneID:  req.SceneID,
		AssetKey: req.AssetKey,
		Version:  req.Version,
	})
	if err != nil {
		return err
	}
	resp.Updated = true
	s.logger.Info("scene asset promoted via IPC",
		logging.String(logging.FieldProjectID, req.ProjectID),
		logging.String(logging.FieldSceneID, req.SceneID),
		logging.String("asset_key", req.AssetKey),
		logging.Int("version", req.Version),
		logging.String(logging.FieldEventType, "asset_promote"))
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	if req.ProjectID == "" {
		return errors.New("project id is required")
	}
	items, err := s.daemon.ListJobs(s.ctx, req.ProjectID, req.State)
	if err != nil {
		return err
	}
	resp.Jobs = make([]JobItem, 0, len(items))
	for _, job := range items {
		if job == nil {
			continue
		}
		resp.Jobs = append(resp.Jobs, convertJob(job))
	}
	return nil
}

func (s *service) JobCancel(req JobCancelRequest, resp *JobCancelResponse) error {
	if req.JobID == "" {
		return errors.New("job id is required")
	}
	job, err := s.daemon.CancelJob(s.ctx, req.JobID, req.Reason)
	if err != nil {
		return err
	}
	resp.Job = convertJob(job)
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	ctx := s.ctx
	if req.Wait {
		wait := time.Duration(req.WaitMillis) * time.Millisecond
		if wait <= 0 {
			wait = time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	batch, next, err := s.daemon.Events(ctx, req.Since, req.Limit, req.Wait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	resp.Events = batch
	resp.Next = next
	return nil
}
