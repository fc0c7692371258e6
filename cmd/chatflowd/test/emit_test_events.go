// Dev tool: publishes a handful of chat and whisper CloudEvents to the
// JetStream chat event stream so a running chatflowd can be exercised without
// a live platform connection.
package main

import (
	"flag"
	"log"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"chatflow/internal/twitch"
)

func main() {
	// Parse command line flags
	natsURL := flag.String("nats-url", "nats://localhost:4222", "NATS server URL")
	streamName := flag.String("stream", "chat-events", "NATS stream name")
	subject := flag.String("subject", "chat.events.message", "Subject to publish on")
	channel := flag.String("channel", "somechannel", "Channel the chat events belong to")
	flag.Parse()

	// Connect to NATS
	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		log.Fatalf("Failed to create JetStream context: %v", err)
	}

	// Create stream if it doesn't exist
	stream, err := js.StreamInfo(*streamName)
	if err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     *streamName,
			Subjects: []string{"chat.events.>"},
		})
		if err != nil {
			log.Fatalf("Failed to create stream: %v", err)
		}
	} else {
		log.Printf("Using existing stream: %s", stream.Config.Name)
	}

	emitChatMessage(js, *subject, twitch.ChatMessage{
		Channel:  *channel,
		Message:  "hello from the test emitter",
		Username: "testviewer",
		UserID:   "1001",
		UserType: twitch.UserTypeViewer,
	})

	emitChatMessage(js, *subject, twitch.ChatMessage{
		Channel:      *channel,
		Message:      "cheer50 great stream",
		Username:     "testsubscriber",
		UserID:       "1002",
		UserType:     twitch.UserTypeSubscriber,
		IsSubscriber: true,
		Bits:         50,
		BitsValue:    0.5,
	})

	emitChatMessage(js, *subject, twitch.ChatMessage{
		Channel:       *channel,
		Message:       "!so testviewer",
		Username:      *channel,
		UserID:        "1",
		UserType:      twitch.UserTypeBroadcaster,
		IsBroadcaster: true,
	})

	emitWhisper(js, *subject, twitch.WhisperMessage{
		Message:  "psst, secret command",
		Username: "testfriend",
		UserID:   "1003",
		UserType: twitch.UserTypeViewer,
	})
}

func emitChatMessage(js nats.JetStreamContext, subject string, msg twitch.ChatMessage) {
	publishEvent(js, subject, twitch.EventTypeChatMessage, msg)
	log.Printf("Emitted chat message from %s in #%s", msg.Username, msg.Channel)
}

func emitWhisper(js nats.JetStreamContext, subject string, msg twitch.WhisperMessage) {
	publishEvent(js, subject, twitch.EventTypeWhisperMessage, msg)
	log.Printf("Emitted whisper from %s", msg.Username)
}

func publishEvent(js nats.JetStreamContext, subject, eventType string, payload any) {
	evt := cloudevents.NewEvent()
	evt.SetID(uuid.New().String())
	evt.SetSource("chatflow-test-emitter")
	evt.SetType(eventType)
	if err := evt.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		log.Fatalf("Failed to set event data: %v", err)
	}

	data, err := evt.MarshalJSON()
	if err != nil {
		log.Fatalf("Failed to marshal event: %v", err)
	}

	if _, err := js.Publish(subject, data); err != nil {
		log.Fatalf("Failed to publish event: %v", err)
	}
}
