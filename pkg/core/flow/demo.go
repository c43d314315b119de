package flow

// DemoGraph returns the airline self-service flow used by the examples
// and integration tests: a main menu, a booking submenu, and a
// flight-status branch that collects a six digit PNR and looks it up.
// PNR entry is deterministic-only; the rest of the menu accepts mapped
// intents alongside digits.
func DemoGraph() *Graph {
	g := &Graph{
		Start: "main",
		Nodes: map[string]*Node{
			"main": {
				ID:       "main",
				Prompt:   "Welcome. Press 1 or say booking. Press 2 or say flight status. Press 3 to reach an agent.",
				Expected: InputAny,
				Transitions: []Transition{
					{OnDigit: "1", Next: "booking"},
					{OnIntent: "booking_enquiry", Next: "booking"},
					{OnDigit: "2", Next: "flight_status"},
					{OnIntent: "flight_status", Next: "flight_status"},
					{OnDigit: "3", Next: "transfer_agent"},
					{OnIntent: "agent_transfer", Next: "transfer_agent"},
					{OnIntent: "greeting", Next: "main"},
					{OnIntent: "end_call", Next: "goodbye"},
				},
			},
			"booking": {
				ID:       "booking",
				Prompt:   "Booking menu. Press 1 for domestic, 2 for international, or 0 to go back.",
				Expected: InputAny,
				Transitions: []Transition{
					{OnDigit: "1", Next: "booking_done", Operation: "create_booking", Params: map[string]string{"class": "domestic"}},
					{OnDigit: "2", Next: "booking_done", Operation: "create_booking", Params: map[string]string{"class": "international"}},
					{OnDigit: "0", Next: "main"},
					{OnIntent: "end_call", Next: "goodbye"},
				},
			},
			"booking_done": {
				ID:                "booking_done",
				Prompt:            "Your booking request has been created. Your reference is {reference}. Goodbye.",
				Terminal:          true,
				TerminationReason: "completed",
			},
			"flight_status": {
				ID:                "flight_status",
				Prompt:            "Please enter your six digit P N R number, or press 0 to go back.",
				Expected:          InputDTMF,
				DeterministicOnly: true,
				Transitions: []Transition{
					{OnDigit: "0", Next: "main"},
				},
				Capture: &Capture{
					Length:    6,
					ParamName: "pnr",
					Operation: "pnr_lookup",
					Next:      "status_result",
				},
			},
			"status_result": {
				ID:                "status_result",
				Prompt:            "P N R {pnr} is {status}. Goodbye.",
				Terminal:          true,
				TerminationReason: "completed",
			},
			"transfer_agent": {
				ID:                "transfer_agent",
				Prompt:            "Please hold while I transfer you to an agent.",
				NonInterruptible:  true,
				Terminal:          true,
				TerminationReason: "transfer",
			},
			"goodbye": {
				ID:                "goodbye",
				Prompt:            "Thanks for calling. Goodbye.",
				Terminal:          true,
				TerminationReason: "completed",
			},
		},
	}
	return g
}
