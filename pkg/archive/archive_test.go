package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/monitor"
)

type putCall struct {
	bucket, key, contentType string
	body                     []byte
}

type fakeUploader struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakeUploader) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		body:        body,
	})
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSource struct{}

func (fakeSource) GetServiceStatus(names []string) map[string][]monitor.InstanceHealth {
	return map[string][]monitor.InstanceHealth{
		"auth": {{UUID: "A1", Online: "true", Status: json.RawMessage(`{"ok":1}`)}},
	}
}

func (fakeSource) WorkStatus() monitor.WorkStatus {
	return monitor.WorkStatus{UUID: "M0", TotalMsgIn: 3}
}

func uploads(t *testing.T, reg *metrics.Registry, result string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, reg.ArchiveUploadsTotal.WithLabelValues(result).Write(&m))
	return m.GetCounter().GetValue()
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, &fakeUploader{}, fakeSource{}, logging.NewNopLogger(), metrics.NewRegistry())
	assert.ErrorIs(t, err, ErrNoBucket)

	_, err = New(Config{Bucket: "b"}, nil, fakeSource{}, logging.NewNopLogger(), metrics.NewRegistry())
	assert.ErrorIs(t, err, ErrNoSource)

	a, err := New(Config{Bucket: "b"}, &fakeUploader{}, fakeSource{}, logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, a.cfg.Interval)
}

func TestUploadOnce(t *testing.T) {
	up := &fakeUploader{}
	reg := metrics.NewRegistry()
	a, err := New(Config{Bucket: "status", Prefix: "prod"}, up, fakeSource{}, logging.NewNopLogger(), reg)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	key, err := a.UploadOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prod/M0/2026/03/04/050607.json", key)

	require.Equal(t, 1, up.count())
	call := up.calls[0]
	assert.Equal(t, "status", call.bucket)
	assert.Equal(t, "application/json", call.contentType)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(call.body, &snap))
	assert.Equal(t, "M0", snap.Node.UUID)
	require.Len(t, snap.Services["auth"], 1)
	assert.JSONEq(t, `{"ok":1}`, string(snap.Services["auth"][0].Status))

	assert.Equal(t, 1.0, uploads(t, reg, "ok"))
}

func TestUploadOnce_Error(t *testing.T) {
	up := &fakeUploader{err: errors.New("access denied")}
	reg := metrics.NewRegistry()
	a, _ := New(Config{Bucket: "status"}, up, fakeSource{}, logging.NewNopLogger(), reg)

	_, err := a.UploadOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, 1.0, uploads(t, reg, "error"))
}

func TestRun_UploadsUntilCancelled(t *testing.T) {
	up := &fakeUploader{err: errors.New("flaky")}
	a, _ := New(Config{Bucket: "status", Interval: 5 * time.Millisecond}, up, fakeSource{}, logging.NewNopLogger(), metrics.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Failures do not stop the loop
	require.Eventually(t, func() bool { return up.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewS3Client_Endpoint(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	client, err := NewS3Client(context.Background(), Config{
		Region:          "auto",
		Endpoint:        "https://example.r2.cloudflarestorage.com",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	opts := client.Options()
	assert.Equal(t, "auto", opts.Region)
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "https://example.r2.cloudflarestorage.com", aws.ToString(opts.BaseEndpoint))
}
