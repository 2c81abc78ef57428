package msf

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/client"
)

// Jobs wraps the job.* namespace.
type Jobs struct {
	c *client.Client
}

type JobInfo struct {
	JID       int            `msgpack:"jid" codec:"jid" json:"jid"`
	Name      string         `msgpack:"name" codec:"name" json:"name"`
	StartTime int64          `msgpack:"start_time" codec:"start_time" json:"start_time"`
	URIPath   string         `msgpack:"uripath,omitempty" codec:"uripath,omitempty" json:"uripath,omitempty"`
	Datastore map[string]any `msgpack:"datastore,omitempty" codec:"datastore,omitempty" json:"datastore,omitempty"`
}

// List maps job id to job name. No running jobs is an empty map, not an error.
func (j *Jobs) List(ctx context.Context) (map[string]string, error) {
	var reply map[string]string
	if err := j.c.Call(ctx, catalog.JobList, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (j *Jobs) Info(ctx context.Context, id string) (*JobInfo, error) {
	var reply JobInfo
	if err := j.c.Call(ctx, catalog.JobInfo, &reply, id); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (j *Jobs) Stop(ctx context.Context, id string) error {
	return status(ctx, j.c, catalog.JobStop, id)
}
