// Package google provides a Dialogflow ES streaming detect-intent provider.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	dialogflow "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"

	"dialogflow-intent-stream/internal/audio"
	"dialogflow-intent-stream/internal/observability/logging"
	"dialogflow-intent-stream/internal/service/intent"
	"dialogflow-intent-stream/internal/service/session"
)

// ErrNoQueryResult is returned when a stream ends without a query result.
var ErrNoQueryResult = errors.New("stream ended without a query result")

// Config holds Dialogflow client settings.
type Config struct {
	Endpoint        string // e.g. europe-west1-dialogflow.googleapis.com:443
	CredentialsFile string
	ClientOptions   []option.ClientOption
	CallOptions     []gax.CallOption
}

// sessionsClient is the part of *dialogflow.SessionsClient the detector uses.
type sessionsClient interface {
	StreamingDetectIntent(ctx context.Context, opts ...gax.CallOption) (dialogflowpb.Sessions_StreamingDetectIntentClient, error)
	Close() error
}

// Detector implements intent.Detector using the Dialogflow Sessions API.
type Detector struct {
	client   sessionsClient
	callOpts []gax.CallOption
	log      zerolog.Logger
}

// New creates a Dialogflow detector. Without a credentials file the client
// uses Application Default Credentials.
func New(ctx context.Context, cfg Config) (*Detector, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, cfg.ClientOptions...)

	c, err := dialogflow.NewSessionsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sessions client: %w", err)
	}
	return newDetector(c, cfg.CallOptions), nil
}

func newDetector(c sessionsClient, callOpts []gax.CallOption) *Detector {
	return &Detector{
		client:   c,
		callOpts: callOpts,
		log:      logging.WithComponent("dialogflow"),
	}
}

// Name returns the provider name.
func (d *Detector) Name() string {
	return "google"
}

// Close closes the sessions client.
func (d *Detector) Close() error {
	return d.client.Close()
}

// ConfigRequest builds the first request of a stream. It carries the session
// and the audio config and no audio.
func ConfigRequest(req intent.Request) *dialogflowpb.StreamingDetectIntentRequest {
	return &dialogflowpb.StreamingDetectIntentRequest{
		Session: req.SessionPath,
		QueryInput: &dialogflowpb.QueryInput{
			Input: &dialogflowpb.QueryInput_AudioConfig{
				AudioConfig: &dialogflowpb.InputAudioConfig{
					AudioEncoding:   parseAudioEncoding(req.Audio.Encoding),
					SampleRateHertz: int32(req.Audio.SampleRateHz),
					LanguageCode:    session.LanguageOrDefault(req.Audio.LanguageCode),
					SingleUtterance: req.Audio.SingleUtterance,
				},
			},
		},
	}
}

// AudioRequest builds a request that carries only audio.
func AudioRequest(chunk []byte) *dialogflowpb.StreamingDetectIntentRequest {
	return &dialogflowpb.StreamingDetectIntentRequest{InputAudio: chunk}
}

// BuildRequests returns the full request sequence for r: the config request
// followed by one audio request per chunk.
func BuildRequests(ctx context.Context, req intent.Request, r io.Reader) ([]*dialogflowpb.StreamingDetectIntentRequest, error) {
	requests := []*dialogflowpb.StreamingDetectIntentRequest{ConfigRequest(req)}
	err := audio.ReadChunks(ctx, r, chunkSize(req), func(chunk []byte) error {
		requests = append(requests, AudioRequest(chunk))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// DetectStream streams r to Dialogflow and returns the query result.
// Audio is sent while responses are received. r is not read after
// DetectStream returns; if the server ends the stream before r is drained
// and r is an io.Closer, r is closed to unblock the pending read.
func (d *Detector) DetectStream(ctx context.Context, req intent.Request, r io.Reader, cb intent.Callback) (*intent.Result, error) {
	if cb == nil {
		cb = intent.NopCallback{}
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := d.client.StreamingDetectIntent(sctx, d.callOpts...)
	if err != nil {
		return nil, fmt.Errorf("open streaming detect intent: %w", err)
	}

	lc := session.NewLifecycle(req.SessionPath)
	if err := lc.SendConfig(); err != nil {
		return nil, err
	}
	if err := stream.Send(ConfigRequest(req)); err != nil {
		lc.Fail(err)
		return nil, fmt.Errorf("send config: %w", err)
	}

	utteranceEnded := make(chan struct{})
	var endOnce sync.Once
	endUtterance := func() { endOnce.Do(func() { close(utteranceEnded) }) }

	var (
		g       errgroup.Group
		sendErr error
		stopped atomic.Bool
	)
	senderDone := make(chan struct{})
	g.Go(func() error {
		defer close(senderDone)
		err := d.sendAudio(sctx, stream, lc, req, r, cb, utteranceEnded)
		// errors caused by stopSender below are not the sender's own
		if err != nil && !stopped.Load() {
			sendErr = err
			cancel()
		}
		return nil
	})

	result, recvErr := d.receive(stream, cb, endUtterance)
	d.stopSender(r, lc, &stopped, endUtterance, cancel, senderDone)
	_ = g.Wait()

	if sendErr != nil {
		// a receive error is then only the cancellation caused by the sender
		lc.Fail(sendErr)
		return nil, sendErr
	}
	if recvErr != nil {
		lc.Fail(recvErr)
		return nil, recvErr
	}
	lc.Complete()

	d.log.Debug().
		Str("session", req.SessionPath).
		Int("chunks", lc.AudioChunks()).
		Int64("bytes", lc.AudioBytes()).
		Str("state", lc.State().String()).
		Msg("Stream finished")

	if result == nil {
		return nil, ErrNoQueryResult
	}
	return result, nil
}

// stopSender ends a sender that is still running once the response stream
// is over. A sender blocked in r.Read only returns when r is closed.
func (d *Detector) stopSender(
	r io.Reader,
	lc *session.Lifecycle,
	stopped *atomic.Bool,
	endUtterance, cancel func(),
	senderDone <-chan struct{},
) {
	stopped.Store(true)
	endUtterance()
	cancel()

	select {
	case <-senderDone:
		return
	default:
	}
	if lc.State() >= session.StateHalfClosed {
		// past the last read of r
		return
	}
	if c, ok := r.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.log.Debug().Err(err).Msg("Close audio reader")
		}
	}
}

// sendAudio streams r in chunks and half-closes the stream. It stops early
// once the server reports the end of a single utterance.
func (d *Detector) sendAudio(
	ctx context.Context,
	stream dialogflowpb.Sessions_StreamingDetectIntentClient,
	lc *session.Lifecycle,
	req intent.Request,
	r io.Reader,
	cb intent.Callback,
	utteranceEnded <-chan struct{},
) error {
	errStop := errors.New("stop sending")

	err := audio.ReadChunks(ctx, r, chunkSize(req), func(chunk []byte) error {
		select {
		case <-utteranceEnded:
			return errStop
		default:
		}
		if err := lc.SendAudio(len(chunk)); err != nil {
			return err
		}
		if err := stream.Send(AudioRequest(chunk)); err != nil {
			if errors.Is(err, io.EOF) {
				// the server ended the stream; Recv reports why
				return errStop
			}
			return fmt.Errorf("send audio: %w", err)
		}
		cb.OnAudioSent(len(chunk))
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}

	if err := lc.CloseSend(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}
	return nil
}

// receive drains responses until the server closes the stream. The last
// response carrying a query result wins.
func (d *Detector) receive(
	stream dialogflowpb.Sessions_StreamingDetectIntentClient,
	cb intent.Callback,
	endUtterance func(),
) (*intent.Result, error) {
	var result *intent.Result
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			return nil, fmt.Errorf("receive: %w", err)
		}

		if e := d.log.Trace(); e.Enabled() {
			if raw, merr := protojson.Marshal(resp); merr == nil {
				e.RawJSON("response", raw).Msg("Streaming detect intent response")
			}
		}

		if rr := resp.GetRecognitionResult(); rr != nil {
			switch rr.GetMessageType() {
			case dialogflowpb.StreamingRecognitionResult_TRANSCRIPT:
				cb.OnTranscript(rr.GetTranscript(), rr.GetIsFinal(), float64(rr.GetConfidence()))
			case dialogflowpb.StreamingRecognitionResult_END_OF_SINGLE_UTTERANCE:
				endUtterance()
				cb.OnEndOfUtterance()
			}
		}

		if qr := resp.GetQueryResult(); qr != nil {
			result = toResult(resp.GetResponseId(), qr)
		}

		if ws := resp.GetWebhookStatus(); ws != nil && ws.GetCode() != 0 {
			d.log.Warn().
				Int32("code", ws.GetCode()).
				Str("message", ws.GetMessage()).
				Msg("Webhook call failed")
		}
	}
}

func toResult(responseId string, qr *dialogflowpb.QueryResult) *intent.Result {
	res := &intent.Result{
		ResponseID:                responseId,
		QueryText:                 qr.GetQueryText(),
		LanguageCode:              qr.GetLanguageCode(),
		Intent:                    qr.GetIntent().GetDisplayName(),
		IntentDetectionConfidence: float64(qr.GetIntentDetectionConfidence()),
		SpeechConfidence:          float64(qr.GetSpeechRecognitionConfidence()),
		FulfillmentText:           qr.GetFulfillmentText(),
	}
	if p := qr.GetParameters(); p != nil {
		res.Parameters = p.AsMap()
	}
	return res
}

func chunkSize(req intent.Request) int {
	if req.ChunkSize > 0 {
		return req.ChunkSize
	}
	return audio.DefaultChunkSize
}

// parseAudioEncoding converts a string encoding name to the Dialogflow enum.
// Unknown names fall back to LINEAR16.
func parseAudioEncoding(enc string) dialogflowpb.AudioEncoding {
	switch enc {
	case "LINEAR16":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_LINEAR_16
	case "FLAC":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_FLAC
	case "MULAW":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_MULAW
	case "AMR":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_AMR
	case "AMR_WB":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_AMR_WB
	case "OGG_OPUS":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_SPEEX_WITH_HEADER_BYTE
	default:
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_LINEAR_16
	}
}
