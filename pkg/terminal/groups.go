package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	memoryCmds
	kernelCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Reading, writing and searching kernel memory", memoryCmds},
	{"Inspecting the kernel", kernelCmds},
	{"Other commands", otherCmds},
}
