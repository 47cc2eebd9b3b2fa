package metrics

import "github.com/prometheus/client_golang/prometheus"

// BothModesCounter считает вызовы команды отдельно для чата и инлайна.
type BothModesCounter struct {
	Chat   prometheus.Counter
	Inline prometheus.Counter
}

// ComplexCounter различает начатые и завершённые операции.
type ComplexCounter struct {
	Invoked  prometheus.Counter
	Finished prometheus.Counter
}

// CommandCounters — счётчики команд бота. Конструируются один раз и
// передаются обработчикам явно, без скрытых синглтонов.
type CommandCounters struct {
	Start prometheus.Counter
	Help  prometheus.Counter
	Grow  BothModesCounter
	Top   BothModesCounter
	Dod   BothModesCounter
	Pvp   BothModesCounter
	Loan  BothModesCounter
	// DodJobs считает задания планировщика на выбор победителя дня.
	DodJobs ComplexCounter
}

// NewCommandCounters создаёт и регистрирует счётчики команд.
func NewCommandCounters(registerer prometheus.Registerer) *CommandCounters {
	c := &CommandCounters{
		Start:   commandCounter("command_start_usage_total", "count of /start invocations", nil),
		Help:    commandCounter("command_help_usage_total", "count of /help invocations", nil),
		Grow:    bothModes("command_grow_usage_total", "count of /grow invocations"),
		Top:     bothModes("command_top_usage_total", "count of /top invocations"),
		Dod:     bothModes("command_dick_of_day_usage_total", "count of /dick_of_day invocations"),
		Pvp:     bothModes("command_pvp_usage_total", "count of /pvp invocations"),
		Loan:    bothModes("command_loan_usage_total", "count of /loan invocations"),
		DodJobs: complexCounter("dod_jobs_total", "count of scheduled dick-of-day jobs"),
	}
	registerer.MustRegister(
		c.Start, c.Help,
		c.Grow.Chat, c.Grow.Inline,
		c.Top.Chat, c.Top.Inline,
		c.Dod.Chat, c.Dod.Inline,
		c.Pvp.Chat, c.Pvp.Inline,
		c.Loan.Chat, c.Loan.Inline,
		c.DodJobs.Invoked, c.DodJobs.Finished,
	)
	return c
}

func commandCounter(name, help string, labels prometheus.Labels) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels})
}

func bothModes(name, help string) BothModesCounter {
	return BothModesCounter{
		Chat:   commandCounter(name, help, prometheus.Labels{"mode": "chat"}),
		Inline: commandCounter(name, help, prometheus.Labels{"mode": "inline"}),
	}
}

func complexCounter(name, help string) ComplexCounter {
	return ComplexCounter{
		Invoked:  commandCounter(name, help, prometheus.Labels{"state": "invoked"}),
		Finished: commandCounter(name, help, prometheus.Labels{"state": "finished"}),
	}
}
