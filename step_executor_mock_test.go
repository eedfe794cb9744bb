package flowsim

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStepExecutor is a mock type for the StepExecutor type
type MockStepExecutor struct {
	mock.Mock
}

type MockStepExecutor_Expecter struct {
	mock *mock.Mock
}

func (_m *MockStepExecutor) EXPECT() *MockStepExecutor_Expecter {
	return &MockStepExecutor_Expecter{mock: &_m.Mock}
}

// Execute provides a mock function with given fields: ctx, step
func (_m *MockStepExecutor) Execute(ctx context.Context, step *Step) (Outcome, error) {
	ret := _m.Called(ctx, step)

	if len(ret) == 0 {
		panic("no return value specified for Execute")
	}

	var r0 Outcome
	if rf, ok := ret.Get(0).(func(context.Context, *Step) Outcome); ok {
		r0 = rf(ctx, step)
	} else {
		r0 = ret.Get(0).(Outcome)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, *Step) error); ok {
		r1 = rf(ctx, step)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// MockStepExecutor_Execute_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Execute'
type MockStepExecutor_Execute_Call struct {
	*mock.Call
}

// Execute is a helper method to define mock.On call
//   - ctx context.Context
//   - step *Step
func (_e *MockStepExecutor_Expecter) Execute(ctx interface{}, step interface{}) *MockStepExecutor_Execute_Call {
	return &MockStepExecutor_Execute_Call{Call: _e.mock.On("Execute", ctx, step)}
}

func (_c *MockStepExecutor_Execute_Call) Run(run func(ctx context.Context, step *Step)) *MockStepExecutor_Execute_Call {
	_c.Call.Run(func(args mock.Arguments) {
		run(args[0].(context.Context), args[1].(*Step))
	})

	return _c
}

func (_c *MockStepExecutor_Execute_Call) Return(outcome Outcome, err error) *MockStepExecutor_Execute_Call {
	_c.Call.Return(outcome, err)

	return _c
}

// NewMockStepExecutor creates a new instance of MockStepExecutor. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockStepExecutor(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStepExecutor {
	m := &MockStepExecutor{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
