package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Sceneflow.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProjectStart starts or resumes a project pipeline.
func (c *Client) ProjectStart(req ProjectStartRequest) (*ProjectStartResponse, error) {
	var resp ProjectStartResponse
	if err := c.client.Call("Sceneflow.ProjectStart", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProjectResume continues a checkpointed project.
func (c *Client) ProjectResume(projectID string) (*ProjectResumeResponse, error) {
	var resp ProjectResumeResponse
	if err := c.client.Call("Sceneflow.ProjectResume", ProjectResumeRequest{ProjectID: projectID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProjectList returns summaries for every known project.
func (c *Client) ProjectList() (*ProjectListResponse, error) {
	var resp ProjectListResponse
	if err := c.client.Call("Sceneflow.ProjectList", ProjectListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProjectDescribe returns one project's full checkpointed state.
func (c *Client) ProjectDescribe(projectID string) (*ProjectDescribeResponse, error) {
	var resp ProjectDescribeResponse
	if err := c.client.Call("Sceneflow.ProjectDescribe", ProjectDescribeRequest{ProjectID: projectID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Regenerate queues a directed re-generation of one scene.
func (c *Client) Regenerate(req RegenerateRequest) (*RegenerateResponse, error) {
	var resp RegenerateResponse
	if err := c.client.Call("Sceneflow.Regenerate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolve answers a pending intervention.
func (c *Client) Resolve(req ResolveRequest) (*ResolveResponse, error) {
	var resp ResolveResponse
	if err := c.client.Call("Sceneflow.Resolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Intervention fetches a project's pending interrupt.
func (c *Client) Intervention(projectID string) (*InterventionResponse, error) {
	var resp InterventionResponse
	if err := c.client.Call("Sceneflow.Intervention", InterventionRequest{ProjectID: projectID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetAsset promotes an existing asset version to best for a scene.
func (c *Client) SetAsset(req SetAssetRequest) (*SetAssetResponse, error) {
	var resp SetAssetResponse
	if err := c.client.Call("Sceneflow.SetAsset", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns a project's jobs filtered by optional state.
func (c *Client) JobList(projectID, state string) (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.client.Call("Sceneflow.JobList", JobListRequest{ProjectID: projectID, State: state}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobCancel force-cancels one job.
func (c *Client) JobCancel(jobID, reason string) (*JobCancelResponse, error) {
	var resp JobCancelResponse
	if err := c.client.Call("Sceneflow.JobCancel", JobCancelRequest{JobID: jobID, Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events fetches buffered events after a sequence number.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.client.Call("Sceneflow.Events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
