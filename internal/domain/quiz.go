package domain

type QuizQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

// QuizView - вопрос без правильного ответа, отдается клиенту
type QuizView struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

func (q QuizQuestion) View() QuizView {
	return QuizView{ID: q.ID, Text: q.Text, Options: q.Options}
}

// QuizResult - итог проверки ответов
type QuizResult struct {
	Total   int          `json:"total"`
	Correct int          `json:"correct"`
	Entry   *Transaction `json:"entry"`
}
