package entity

import "time"

// StateTransition - неизменяемая запись о смене состояния вопроса.
// Seq растет строго монотонно в пределах одного студента и служит курсором подписки.
type StateTransition struct {
	ID         uint          `gorm:"primaryKey" json:"-"`
	AskerID    string        `gorm:"size:128;not null;uniqueIndex:ux_transitions_asker_seq,priority:1" json:"asker_id"`
	Seq        uint64        `gorm:"not null;uniqueIndex:ux_transitions_asker_seq,priority:2" json:"seq"`
	QuestionID string        `gorm:"type:uuid;not null;index" json:"question_id"`
	From       QuestionState `gorm:"column:from_state;size:32;not null;default:''" json:"from"`
	To         QuestionState `gorm:"column:to_state;size:32;not null" json:"to"`
	Reason     string        `gorm:"size:32;not null;default:''" json:"reason,omitempty"`
	Answer     *string       `gorm:"type:text" json:"answer,omitempty"`
	Timestamp  time.Time     `gorm:"column:occurred_at;not null" json:"timestamp"`
}

// TableName определяет имя таблицы для GORM
func (StateTransition) TableName() string {
	return "question_transitions"
}

// NewStateTransition строит событие по состоянию вопроса после мутации.
// Seq назначает хранилище в той же атомарной операции.
func NewStateTransition(q *Question, from QuestionState) StateTransition {
	ev := StateTransition{
		AskerID:    q.AskerID,
		QuestionID: q.ID,
		From:       from,
		To:         q.State,
		Timestamp:  q.UpdatedAt,
	}
	switch q.State {
	case QuestionStateEscalated:
		ev.Reason = string(q.EscalationReason)
	case QuestionStateResolved:
		ev.Reason = string(q.Resolution)
		if answer, ok := q.DeliveredAnswer(); ok {
			ev.Answer = &answer
		}
	}
	return ev
}

// AskerCursor хранит последний выданный Seq студента
type AskerCursor struct {
	AskerID string `gorm:"primaryKey;size:128"`
	LastSeq uint64 `gorm:"not null"`
}

// TableName определяет имя таблицы для GORM
func (AskerCursor) TableName() string {
	return "asker_cursors"
}
