package wechat

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

const (
	MsgTypeText  = "text"
	MsgTypeEvent = "event"

	EventSubscribe = "subscribe"
)

// ErrMalformedMessage marks an inbound body that is not a usable callback
// message. The webhook rejects these before any cache or provider work.
var ErrMalformedMessage = errors.New("malformed inbound message")

// InboundMessage is the subset of the callback XML the relay uses.
type InboundMessage struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content"`
	MsgID        int64    `xml:"MsgId"`
	Event        string   `xml:"Event"`
}

// ParseInbound decodes and validates a callback body.
func ParseInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := xml.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if strings.TrimSpace(msg.FromUserName) == "" || strings.TrimSpace(msg.MsgType) == "" {
		return InboundMessage{}, fmt.Errorf("%w: missing sender or message type", ErrMalformedMessage)
	}
	return msg, nil
}

// DedupeKey identifies a delivery for redelivery suppression. The platform
// redelivers with the same MsgId; events carry no MsgId and are keyed by
// sender, event and create time instead.
func (m InboundMessage) DedupeKey() string {
	if m.MsgID != 0 {
		return fmt.Sprintf("%s:%d", m.FromUserName, m.MsgID)
	}
	return fmt.Sprintf("%s:%s:%d", m.FromUserName, m.Event, m.CreateTime)
}

type cdata struct {
	Value string `xml:",cdata"`
}

type textReply struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   cdata    `xml:"ToUserName"`
	FromUserName cdata    `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      cdata    `xml:"MsgType"`
	Content      cdata    `xml:"Content"`
}

// RenderTextReply builds the reply XML for an inbound message, swapping the
// To/From pair as the protocol requires.
func RenderTextReply(inbound InboundMessage, content string, createTime int64) ([]byte, error) {
	reply := textReply{
		ToUserName:   cdata{inbound.FromUserName},
		FromUserName: cdata{inbound.ToUserName},
		CreateTime:   createTime,
		MsgType:      cdata{MsgTypeText},
		Content:      cdata{content},
	}
	out, err := xml.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("render reply: %w", err)
	}
	return out, nil
}
