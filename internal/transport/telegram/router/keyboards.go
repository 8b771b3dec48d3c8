package router

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"gtbot/internal/meeting"
)

// meetingKeyboard builds the inline buttons attached to a meeting card.
func meetingKeyboard(m meeting.Meeting) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{
		InlineKeyboard: [][]tele.InlineButton{{
			{Text: "Register", Data: fmt.Sprintf("register:%d", m.ID)},
			{Text: "Details", Data: fmt.Sprintf("details:%d", m.ID)},
		}},
	}
}

// listKeyboard builds one button row per listed meeting.
func listKeyboard(ms []meeting.Meeting) *tele.ReplyMarkup {
	rows := make([][]tele.InlineButton, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []tele.InlineButton{
			{Text: fmt.Sprintf("Register #%d", m.ID), Data: fmt.Sprintf("register:%d", m.ID)},
			{Text: fmt.Sprintf("Details #%d", m.ID), Data: fmt.Sprintf("details:%d", m.ID)},
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
