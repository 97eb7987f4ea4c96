// Command testclient streams an audio file to the service's websocket
// endpoint and prints every frame the server sends back.
package main

import (
	"bufio"
	"flag"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	apihttp "dialogflow-intent-stream/internal/http"
)

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-16khz.wav", "Path to audio file")
	serverAddr := flag.String("server", "localhost:8080", "Service address")
	project := flag.String("project", "my-agent", "Dialogflow project ID")
	sessionId := flag.String("session", "", "Session ID (generated by the server when empty)")
	language := flag.String("language", "en-US", "Language code")
	chunkSize := flag.Int("chunk", 4096, "Bytes per binary frame")
	interval := flag.Duration("interval", 128*time.Millisecond, "Delay between frames (4096 bytes = 128ms at 16kHz 16-bit mono)")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/v1/projects/" + *project + "/stream"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", u.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg apihttp.ServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Connection closed: %v", err)
				}
				return
			}
			printMessage(msg)
		}
	}()

	if err := conn.WriteJSON(apihttp.ClientMessage{
		Type:         apihttp.MessageStart,
		SessionID:    *sessionId,
		LanguageCode: *language,
	}); err != nil {
		log.Fatalf("Failed to send start message: %v", err)
	}

	r := bufio.NewReader(f)
	buf := make([]byte, *chunkSize)
	var total int64
	var frames int
	start := time.Now()

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				log.Printf("Server stopped reading after %d frames: %v", frames, werr)
				break
			}
			frames++
			total += int64(n)
			// Simulate real-time streaming
			time.Sleep(*interval)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
	}

	log.Printf("Finished streaming: %d frames, %d bytes in %v", frames, total, time.Since(start).Round(time.Millisecond))

	if err := conn.WriteJSON(apihttp.ClientMessage{Type: apihttp.MessageEnd}); err != nil {
		log.Printf("Failed to send end message: %v", err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for the result")
	}
}

func printMessage(msg apihttp.ServerMessage) {
	switch msg.Type {
	case apihttp.MessageStarted:
		log.Printf("Stream started: sessionId=%s", msg.SessionID)
	case apihttp.MessageTranscript:
		kind := "interim"
		if msg.Transcript.IsFinal {
			kind = "final"
		}
		log.Printf("Transcript (%s): %q", kind, msg.Transcript.Text)
	case apihttp.MessageResult:
		res := msg.Result
		log.Printf("Session path: %s", msg.SessionPath)
		log.Printf("Query text: %s", res.QueryText)
		log.Printf("Detected intent: %s (confidence: %f)", res.Intent, res.IntentDetectionConfidence)
		log.Printf("Fulfilment text: %s", res.FulfillmentText)
	case apihttp.MessageError:
		log.Printf("Stream failed: %s", msg.Error)
	default:
		log.Printf("Unknown message: %+v", msg)
	}
}
