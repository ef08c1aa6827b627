package mailbox

func init() {
	debugChecks = true
}
