package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

func newTestDispatcher(producer messageWriter, registry schemaRegistrar) *Dispatcher {
	return NewDispatcher(nil, producer, registry, time.Second, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDeliverGroupsByTopicAndSetsHeaders(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := newTestDispatcher(producer, registry)

	messages := []Message{
		{EventID: 1, AggregateID: "a1", EventType: "enrollment.created", Topic: TopicEnrollments, SchemaSubject: TopicEnrollments + "-value", PartitionKey: "a1", Payload: json.RawMessage(`{"activity_id":"a1"}`)},
		{EventID: 2, AggregateID: "a1", EventType: "activity.completed", Topic: TopicActivityLifecycle, SchemaSubject: TopicActivityLifecycle + "-value", PartitionKey: "a1", Payload: json.RawMessage(`{"activity_id":"a1"}`)},
		{EventID: 3, AggregateID: "a2", EventType: "enrollment.cancelled", Topic: TopicEnrollments, SchemaSubject: TopicEnrollments + "-value", PartitionKey: "a2", Payload: json.RawMessage(`{"activity_id":"a2"}`)},
	}

	require.NoError(t, dispatcher.deliver(context.Background(), messages))

	require.Len(t, producer.writes, 2)
	require.Equal(t, TopicEnrollments, producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 2)
	require.Equal(t, TopicActivityLifecycle, producer.writes[1].topic)
	require.Len(t, registry.calls, 2, "enrollment schema should be registered once")

	first := producer.writes[0].messages[0]
	require.Equal(t, []byte("a1"), first.Key)
	require.Equal(t, byte(0), first.Value[0])
	require.EqualValues(t, 42, binary.BigEndian.Uint32(first.Value[1:5]))
	require.JSONEq(t, `{"activity_id":"a1"}`, string(first.Value[5:]))

	headers := map[string]string{}
	for _, header := range first.Headers {
		headers[header.Key] = string(header.Value)
	}
	require.Equal(t, "enrollment.created", headers["event_type"])
	require.Equal(t, TopicEnrollments+"-value", headers["schema_subject"])
	require.Equal(t, "a1", headers["aggregate_id"])
	require.Equal(t, "1", headers["outbox_event_id"])
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 1}
	dispatcher := newTestDispatcher(producer, registry)

	err := dispatcher.deliver(context.Background(), []Message{{EventType: "activity.unknown", Topic: TopicActivityLifecycle}})
	require.ErrorContains(t, err, "no schema metadata for event_type=activity.unknown")
	require.Empty(t, producer.writes)
	require.Empty(t, registry.calls)
}

func TestDeliverPropagatesProducerError(t *testing.T) {
	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := newTestDispatcher(producer, &stubRegistry{id: 3})

	err := dispatcher.deliver(context.Background(), []Message{{EventType: "attendance.marked", Topic: TopicAttendance, SchemaSubject: TopicAttendance + "-value", Payload: json.RawMessage(`{}`)}})
	require.ErrorContains(t, err, "kafka write failed")
}

func TestCatalogRoutesEveryDomainEvent(t *testing.T) {
	for _, eventType := range []domain.EventType{
		domain.EventEnrollmentCreated, domain.EventEnrollmentCancelled, domain.EventAttendanceMarked,
		domain.EventActivityCreated, domain.EventActivityUpdated, domain.EventActivityCompleted,
		domain.EventActivityCancelled, domain.EventActivityDeleted,
	} {
		route, ok := Lookup(string(eventType))
		require.True(t, ok, eventType)
		require.NotEmpty(t, route.Topic)
		require.Equal(t, route.Topic+"-value", route.SchemaSubject)
		require.True(t, json.Valid([]byte(route.Schema)), eventType)
	}
}

func TestDLQOutcomesAreLabelledByEventType(t *testing.T) {
	cancelled := string(domain.EventEnrollmentCancelled)
	before := testutil.ToFloat64(dlqOutcomes.WithLabelValues(cancelled, dlqOutcomeRetryLater))
	beforeUnknown := testutil.ToFloat64(dlqOutcomes.WithLabelValues("unknown", dlqOutcomeQuarantined))

	recordDLQOutcome(dlqEntry{EventType: cancelled}, dlqOutcomeRetryLater)
	recordDLQOutcome(dlqEntry{EventType: "legacy.removed"}, dlqOutcomeQuarantined)

	require.InDelta(t, before+1, testutil.ToFloat64(dlqOutcomes.WithLabelValues(cancelled, dlqOutcomeRetryLater)), 0.0001)
	require.InDelta(t, beforeUnknown+1, testutil.ToFloat64(dlqOutcomes.WithLabelValues("unknown", dlqOutcomeQuarantined)), 0.0001)
	require.ElementsMatch(t, []string{
		"enrollment.created", "enrollment.cancelled", "attendance.marked", "activity.created",
		"activity.updated", "activity.completed", "activity.cancelled", "activity.deleted",
	}, catalogEventTypes())
}

func TestBackoffDelay(t *testing.T) {
	manager := NewDLQManager(nil, 3, time.Minute, nil)
	require.Equal(t, time.Minute, manager.backoffDelay(1))
	require.Equal(t, 4*time.Minute, manager.backoffDelay(3))
	require.Equal(t, time.Hour, manager.backoffDelay(10))
	require.Equal(t, time.Hour, manager.backoffDelay(64))
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/enrollment_events-value/versions/latest":
			if !registered {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(`{"id":7}`))
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/enrollment_events-value/versions":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "JSON", body["schemaType"])
			registered = true
			_, _ = w.Write([]byte(`{"id":7}`))
		default:
			http.Error(w, "unexpected", http.StatusTeapot)
		}
	}))
	defer server.Close()

	client := NewSchemaRegistryClient(server.URL + "/")
	id, err := client.EnsureSchema(context.Background(), "enrollment_events-value", enrollmentChangedSchema)
	require.NoError(t, err)
	require.Equal(t, 7, id)
	require.True(t, registered)

	id, err = client.EnsureSchema(context.Background(), "enrollment_events-value", enrollmentChangedSchema)
	require.NoError(t, err)
	require.Equal(t, 7, id)
}

func TestSchemaRegistrySurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewSchemaRegistryClient(server.URL).EnsureSchema(context.Background(), "x-value", "{}")
	require.ErrorContains(t, err, "schema registry error")
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: append([]kafka.Message(nil), msgs...)})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []string
}

func (s *stubRegistry) EnsureSchema(_ context.Context, subject string, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, subject)
	if s.err != nil {
		return 0, s.err
	}
	return s.id, nil
}
