package chat_respond

import (
	jobrt "github.com/yungbote/widgetchat-backend/internal/jobs/runtime"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	return p.chat.RunRespondJob(jc, nil)
}
