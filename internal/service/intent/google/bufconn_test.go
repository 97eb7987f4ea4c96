package google

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// agentServer is an in-process Sessions service. It echoes the number of
// audio bytes it received as the query text.
type agentServer struct {
	dialogflowpb.UnimplementedSessionsServer

	mu      sync.Mutex
	session string
	config  *dialogflowpb.InputAudioConfig
	audio   bytes.Buffer
	chunks  int
	fail    error
}

func (s *agentServer) StreamingDetectIntent(stream dialogflowpb.Sessions_StreamingDetectIntentServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.GetQueryInput().GetAudioConfig() == nil || len(first.GetInputAudio()) > 0 {
		return status.Error(codes.InvalidArgument, "first request must carry only the audio config")
	}

	s.mu.Lock()
	s.session = first.GetSession()
	s.config = first.GetQueryInput().GetAudioConfig()
	fail := s.fail
	s.mu.Unlock()

	if fail != nil {
		return fail
	}

	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if req.GetQueryInput() != nil || req.GetSession() != "" {
			return status.Error(codes.InvalidArgument, "audio requests must carry only audio")
		}
		s.mu.Lock()
		s.audio.Write(req.GetInputAudio())
		s.chunks++
		s.mu.Unlock()
	}

	if err := stream.Send(&dialogflowpb.StreamingDetectIntentResponse{
		RecognitionResult: &dialogflowpb.StreamingRecognitionResult{
			MessageType: dialogflowpb.StreamingRecognitionResult_TRANSCRIPT,
			Transcript:  "what's the weather",
			IsFinal:     true,
			Confidence:  0.93,
		},
	}); err != nil {
		return err
	}

	return stream.Send(&dialogflowpb.StreamingDetectIntentResponse{
		ResponseId: "bufconn-1",
		QueryResult: &dialogflowpb.QueryResult{
			QueryText:                   "what's the weather",
			LanguageCode:                "en-us",
			SpeechRecognitionConfidence: 0.93,
			Intent:                      &dialogflowpb.Intent{DisplayName: "weather.current"},
			IntentDetectionConfidence:   0.75,
			FulfillmentText:             "It is sunny.",
		},
	})
}

func startAgent(t *testing.T, srv *agentServer) *Detector {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	dialogflowpb.RegisterSessionsServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	d, err := New(context.Background(), Config{
		ClientOptions: []option.ClientOption{option.WithGRPCConn(conn)},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDetector_Bufconn(t *testing.T) {
	srv := &agentServer{}
	d := startAgent(t, srv)
	cb := newRecordingCallback()

	req := testRequest()
	req.Audio.SampleRateHz = 8000
	req.Audio.Encoding = "MULAW"
	data := bytes.Repeat([]byte{0x7f}, 9000)

	res, err := d.DetectStream(context.Background(), req, bytes.NewReader(data), cb)
	require.NoError(t, err)

	assert.Equal(t, "bufconn-1", res.ResponseID)
	assert.Equal(t, "weather.current", res.Intent)
	assert.InDelta(t, 0.75, res.IntentDetectionConfidence, 1e-6)
	assert.InDelta(t, 0.93, res.SpeechConfidence, 1e-6)
	assert.Equal(t, "It is sunny.", res.FulfillmentText)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, testSession, srv.session)
	assert.Equal(t, dialogflowpb.AudioEncoding_AUDIO_ENCODING_MULAW, srv.config.GetAudioEncoding())
	assert.Equal(t, int32(8000), srv.config.GetSampleRateHertz())
	assert.Equal(t, 3, srv.chunks)
	assert.Equal(t, data, srv.audio.Bytes())

	assert.Equal(t, []string{"what's the weather"}, cb.transcripts)
}

func TestDetector_BufconnServerError(t *testing.T) {
	srv := &agentServer{fail: status.Error(codes.NotFound, "agent not found")}
	d := startAgent(t, srv)

	_, err := d.DetectStream(context.Background(), testRequest(), bytes.NewReader(make([]byte, 64)), nil)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
