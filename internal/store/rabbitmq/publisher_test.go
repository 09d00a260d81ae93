package rabbitmq

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
)

func TestEncode(t *testing.T) {
	rec := chat.AuditRecord{
		ID:         "01HZXAMPLE0000000000000000",
		Type:       chat.AuditRoleChanged,
		SessionID:  "01HSESSION0000000000000000",
		ActorID:    1,
		TargetID:   3,
		Role:       chat.RoleViewer,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	msg, err := Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, rec.ID, msg.MessageId)
	assert.Equal(t, "participant_role_changed", msg.Type)

	var back chat.AuditRecord
	require.NoError(t, json.Unmarshal(msg.Body, &back))
	assert.Equal(t, rec, back)
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "chat_audit.retry", RetryQueue("chat_audit"))
	assert.Equal(t, "chat_audit.dlq", DeadQueue("chat_audit"))
}
