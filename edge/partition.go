package edge

// partition splits a task's input into n contiguous byte-range chunks when
// it is partitionable and at least two nodes are available (§4.7). Single
// remainder bytes land in the final chunk.
func partition(t *Task, n int) []*Task {
	if !t.Partitionable || n < 2 || len(t.Input) < n {
		return []*Task{t}
	}
	chunkSize := len(t.Input) / n
	parts := make([]*Task, 0, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if i == n-1 {
			end = len(t.Input)
		}
		parts = append(parts, &Task{
			ID:           partitionID(t.ID, i),
			Op:           t.Op,
			Input:        t.Input[start:end],
			Priority:     t.Priority,
			Deadline:     t.Deadline,
			Model:        t.Model,
			ForceLocal:   t.ForceLocal,
		})
	}
	return parts
}

func partitionID(taskID string, idx int) string {
	return taskID + "#" + itoa(idx)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// merge combines partition results per §4.7: sort by index, concatenate
// bytes, processing time is the max across children, resource usage is the
// component-wise mean, and success requires every child to have succeeded.
func merge(parent *Task, results []*TaskResult) *TaskResult {
	sortByPartitionIdx(results)

	out := &TaskResult{TaskID: parent.ID, Success: true}
	var totalCPU, totalMem float64
	for _, r := range results {
		out.Output = append(out.Output, r.Output...)
		if r.ProcessingMs > out.ProcessingMs {
			out.ProcessingMs = r.ProcessingMs
		}
		totalCPU += r.Usage.CPU
		totalMem += r.Usage.Mem
		if !r.Success {
			out.Success = false
			if out.Err == nil {
				out.Err = r.Err
			}
		}
	}
	n := float64(len(results))
	out.Usage = ResourceUsage{CPU: totalCPU / n, Mem: totalMem / n}
	return out
}

func sortByPartitionIdx(results []*TaskResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].PartitionIdx < results[j-1].PartitionIdx; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
