package labels

type ExportRequest struct {
	BookIDs  []int64 `json:"book_ids" binding:"required"`
	Encoding string  `json:"encoding"`
	// true なら所蔵冊数分のラベルを出す
	PerCopy bool `json:"per_copy"`
}
