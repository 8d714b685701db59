package insts

import "testing"

func TestClassOf(t *testing.T) {
	tests := []struct {
		op   Op
		want OpClass
	}{
		{OpLoad, ClassLoad},
		{OpStore, ClassStore},
		{OpBranch, ClassBranch},
		{OpCall, ClassBranch},
		{OpRet, ClassBranch},
		{OpMul, ClassMul},
		{OpSyscall, ClassSyscall},
		{OpAdd, ClassALU},
		{OpNop, ClassALU},
	}

	for _, tt := range tests {
		if got := ClassOf(tt.op); got != tt.want {
			t.Errorf("ClassOf(%v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestRequiredFUs(t *testing.T) {
	mask := ClassLoad.RequiredFUs()
	if mask != 1<<uint(ClassLoad) {
		t.Errorf("RequiredFUs() = %v, want %v", mask, 1<<uint(ClassLoad))
	}
}

func TestExecutorFunc(t *testing.T) {
	var e Executor = ExecutorFunc(func(in ExecInput) ExecOutput {
		return ExecOutput{Data: in.A + in.B}
	})

	out := e.Exec(ExecInput{A: 2, B: 3})
	if out.Data != 5 {
		t.Errorf("Exec() = %v, want 5", out.Data)
	}
}
