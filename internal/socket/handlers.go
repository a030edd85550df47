package socket

import (
	"context"
	"encoding/json"
	"strings"
)

func (s *Server) handle(ctx context.Context, c *client, e Event) {
	switch e.Name {
	case EventPing:
		c.emit(EventPong, pongData{Time: s.cfg.Now().UTC()})

	case EventWhoAmI:
		c.emit(EventWhoAmI, c.identity)

	case EventConversationJoin:
		s.handleJoin(ctx, c, e)

	case EventMessageSend:
		s.handleSend(ctx, c, e)

	default:
		c.emitError(CodeUnknownEvent, "Unknown event", e.Name)
	}
}

func (s *Server) handleJoin(ctx context.Context, c *client, e Event) {
	var data conversationData
	if err := json.Unmarshal(e.Data, &data); err != nil || data.ConversationID == "" {
		c.emitError(CodeBadEvent, "'conversationId' is required", e.Name)
		return
	}

	if !s.isMember(ctx, c, e.Name, data.ConversationID) {
		return
	}

	s.hub.join(data.ConversationID, c)
	c.emit(EventConversationJoined, data)
}

// Message is delivered to every connection that joined the conversation, sender included
func (s *Server) handleSend(ctx context.Context, c *client, e Event) {
	var data messageSendData
	if err := json.Unmarshal(e.Data, &data); err != nil || data.ConversationID == "" || strings.TrimSpace(data.Text) == "" {
		c.emitError(CodeBadEvent, "'conversationId' and 'text' are required", e.Name)
		return
	}

	if !s.isMember(ctx, c, e.Name, data.ConversationID) {
		return
	}

	msg, err := newEvent(EventMessageNew, messageNewData{
		ConversationID: data.ConversationID,
		From:           c.identity.ID,
		Text:           data.Text,
		SentAt:         s.cfg.Now().UTC(),
	})
	if err != nil {
		c.emitError(CodeInternal, "Message can't be sent", e.Name)
		return
	}

	for _, member := range s.hub.members(data.ConversationID) {
		member.enqueue(msg)
	}
}

// isMember reports membership to the client with error event when it is not granted
func (s *Server) isMember(ctx context.Context, c *client, event string, conversationID string) bool {
	ok, err := s.membership.IsUserMemberOfConversation(ctx, conversationID, c.identity.ID)
	switch {
	case err != nil:
		s.logger.Error("Membership check failed",
			"user_id", c.identity.ID.String(),
			"conversation_id", conversationID,
			"error", err,
		)
		c.emitError(CodeInternal, "Membership can't be checked", event)
		return false
	case !ok:
		c.emitError(CodeForbidden, "Not a member of the conversation", event)
		return false
	}
	return true
}
