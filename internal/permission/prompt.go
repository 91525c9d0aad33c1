package permission

import "github.com/neuna/neuna/internal/ui"

var reasons = map[Kind]string{
	Camera:     "Neuna wants to look through your camera to see (and roast) what is in front of it. Frames are only sent when you capture one.",
	Microphone: "Neuna wants to record a short clip from your microphone and transcribe it as a chat message.",
	Location:   "Neuna wants your approximate location to fetch local weather.",
}

func renderRequest(kind Kind) string {
	return ui.RenderCard(ui.CardOptions{
		Title:  "Permission Request",
		Accent: ui.Yellow,
		Rows: []ui.CardRow{
			{Label: "Access", Value: string(kind), Color: ui.Bold},
		},
		Body: reasons[kind],
	})
}
