package models

import "fmt"

const ticketNumberPad = 3

// FormatTicket renders a serving number as it appears on the board and in
// queue entries, e.g. ("A", 6) -> "A001"-style "A006". Numbers wider than
// the pad simply widen the field.
func FormatTicket(prefix string, n int) string {
	return fmt.Sprintf("%s%0*d", prefix, ticketNumberPad, n)
}
